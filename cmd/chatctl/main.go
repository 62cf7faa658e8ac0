package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ammar1510/chatsync/internal/config"
	"github.com/ammar1510/chatsync/internal/logger"
)

var (
	// Global flags
	verbose    bool
	configPath string
	serverURL  string
	token      string
	timeout    time.Duration

	cfg *config.Config
	log = logger.New("chatctl")
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Command-line chat client",
	Long: `chatctl drives a chat session against a chatsync server.

The bearer token comes from --token, CHATSYNC_TOKEN or the client section of
the config file. Participants may be named by ID or display name.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			logger.SetMinLevel(logger.LevelDebug)
		} else {
			logger.SetMinLevel(logger.LevelWarn)
		}

		path := configPath
		if path == "" {
			path = config.Path()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		if serverURL != "" {
			cfg.Client.ServerURL = serverURL
		}
		if token != "" {
			cfg.Client.Token = token
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $CHATSYNC_CONFIG or chatsync.yaml)")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "", "Server URL (or set CHATSYNC_SERVER)")
	rootCmd.PersistentFlags().StringVarP(&token, "token", "t", "", "Bearer token (or set CHATSYNC_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Timeout for one-shot commands")

	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
