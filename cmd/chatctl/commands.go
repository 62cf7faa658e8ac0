package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ammar1510/chatsync/internal/auth"
	"github.com/ammar1510/chatsync/internal/conversation"
	"github.com/ammar1510/chatsync/internal/models"
	"github.com/ammar1510/chatsync/internal/session"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List the participants you can chat with",
	Args:  cobra.NoArgs,
	RunE:  runUsers,
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"ls"},
	Short:   "List conversations, newest first",
	Args:    cobra.NoArgs,
	RunE:    runConversations,
}

var openCmd = &cobra.Command{
	Use:   "open [participant]",
	Short: "Show a conversation and mark its inbound messages read",
	Args:  cobra.ExactArgs(1),
	RunE:  runOpen,
}

var sendCmd = &cobra.Command{
	Use:   "send [participant] [text...]",
	Short: "Send a message",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSend,
}

var watchCmd = &cobra.Command{
	Use:   "watch [participant]",
	Short: "Stream incoming messages until interrupted",
	Long: `Subscribes to the server's event stream and prints messages as they
arrive. With a participant, that conversation is kept open and its inbound
messages are marked read as they arrive.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

var (
	tokenSecret string
	tokenName   string
	tokenEmail  string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token [participant-id]",
	Short: "Mint a development token for a participant",
	Long: `Signs a token with the shared secret the way the identity provider
would. Intended for local development only.`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "Signing secret (default: JWT_SECRET)")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "Display name claim")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "Email claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTTL, "Token lifetime")
}

func oneShot(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func runUsers(cmd *cobra.Command, args []string) error {
	ctx, cancel := oneShot(cmd)
	defer cancel()

	ch, err := startChat(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	view := ch.ctrl.Snapshot()
	if view.RosterErr != nil {
		return view.RosterErr
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL")
	for _, p := range view.Roster {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.DisplayName, p.Email)
	}
	return w.Flush()
}

func runConversations(cmd *cobra.Command, args []string) error {
	ctx, cancel := oneShot(cmd)
	defer cancel()

	ch, err := startChat(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	view := ch.ctrl.Snapshot()
	if view.ConversationsErr != nil {
		return view.ConversationsErr
	}
	printSummaries(cmd.OutOrStdout(), view)
	if n := conversation.UnreadCount(view.Conversations); n > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%d unread\n", n)
	}
	return nil
}

func runOpen(cmd *cobra.Command, args []string) error {
	ctx, cancel := oneShot(cmd)
	defer cancel()

	ch, err := startChat(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	other, err := resolve(ch.ctrl.Snapshot().Roster, args[0])
	if err != nil {
		return err
	}
	if err := ch.ctrl.Open(ctx, other.ID); err != nil {
		return err
	}
	// let read receipts land before exiting
	ch.ctrl.Wait()

	view := ch.ctrl.Snapshot()
	for _, m := range view.Messages {
		printMessage(cmd.OutOrStdout(), view, m)
	}
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx, cancel := oneShot(cmd)
	defer cancel()

	ch, err := startChat(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	other, err := resolve(ch.ctrl.Snapshot().Roster, args[0])
	if err != nil {
		return err
	}
	msg, err := ch.ctrl.Send(ctx, other.ID, strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	printMessage(cmd.OutOrStdout(), ch.ctrl.Snapshot(), msg)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	ch, err := startChat(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if len(args) == 1 {
		other, err := resolve(ch.ctrl.Snapshot().Roster, args[0])
		if err != nil {
			return err
		}
		if err := ch.ctrl.Open(ctx, other.ID); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watching as %s. Press Ctrl+C to stop.\n", ch.self.DisplayName)
	return ch.client.Subscribe(ctx, func(ev models.Event) {
		if ev.Message == nil {
			return
		}
		ch.ctrl.Receive(ev.Message)
		if ev.Type == models.EventMessage && ev.Message.ReceiverID == ch.self.ID {
			printMessage(out, ch.ctrl.Snapshot(), ev.Message)
		}
	})
}

func runToken(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid participant ID: %w", err)
	}
	secret := tokenSecret
	if secret == "" {
		secret = cfg.Auth.JWTSecret
	}
	verifier, err := auth.NewVerifier([]byte(secret), cfg.Auth.Issuer)
	if err != nil {
		return err
	}

	signed, expires, err := verifier.Issue(&models.Participant{ID: id, DisplayName: tokenName, Email: tokenEmail}, tokenTTL)
	if err != nil {
		return err
	}
	log.Debug("Token for %s expires at %s", id, expires.Format(time.RFC3339))
	fmt.Fprintln(cmd.OutOrStdout(), signed)
	return nil
}

func printSummaries(out io.Writer, view session.View) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, " \tWITH\tWHEN\tLATEST")
	for _, s := range view.Conversations {
		mark := " "
		if s.IsUnread {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, displayName(view.Roster, s.OtherUserID),
			s.Latest.CreatedAt.Local().Format(time.DateTime), preview(s.Latest.Content))
	}
	w.Flush()
}

func printMessage(out io.Writer, view session.View, m *models.Message) {
	from := "me"
	if m.SenderID != view.Self {
		from = displayName(view.Roster, m.SenderID)
	}
	fmt.Fprintf(out, "[%s] %s: %s\n", m.CreatedAt.Local().Format(time.DateTime), from, m.Content)
}

func preview(content string) string {
	content = strings.ReplaceAll(content, "\n", " ")
	if r := []rune(content); len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return content
}
