package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ammar1510/chatsync/internal/api"
	"github.com/ammar1510/chatsync/internal/auth"
	"github.com/ammar1510/chatsync/internal/config"
	"github.com/ammar1510/chatsync/internal/logger"
	"github.com/ammar1510/chatsync/internal/store"
	"github.com/ammar1510/chatsync/internal/store/memory"
	"github.com/ammar1510/chatsync/internal/store/postgres"
	"github.com/ammar1510/chatsync/internal/store/redis"
	"github.com/ammar1510/chatsync/internal/websocket"
)

var log = logger.New("server")

func main() {
	if err := run(); err != nil {
		log.Error("%v", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run() error {
	defer logger.Sync()

	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		logger.SetMinLevel(logger.LevelDebug)
	}

	verifier, err := auth.NewVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := websocket.NewHub(cfg.AllowedOrigins)
	go hub.Run(ctx)

	st, notifier, err := openStore(ctx, cfg, hub)
	if err != nil {
		return err
	}
	defer st.Close()
	log.Info("Using %s store", cfg.Store)

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authorized := router.Group("/api")
	authorized.Use(api.AuthMiddleware(verifier, st))
	{
		api.NewUserHandler(st).RegisterRoutes(authorized)
		api.NewMessageHandler(st, notifier, cfg.Limits.Conversation).RegisterRoutes(authorized)
		authorized.GET("/ws", hub.HandleWebSocket)
	}

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("Server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("Shutting down server...")

	// Give the server 5 seconds to finish processing remaining requests
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server exited properly")
	return nil
}

// openStore connects the configured backend. With redis, events go through
// pub/sub so every instance delivers to its own sockets; otherwise the hub
// delivers directly.
func openStore(ctx context.Context, cfg *config.Config, hub *websocket.Hub) (store.Store, api.Notifier, error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := postgres.New(ctx, cfg.DatabaseURL())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		return db, hub, nil

	case config.StoreRedis:
		rs, err := redis.Dial(ctx, &goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		notifier := redis.NewNotifier(rs.Client())
		go func() {
			if err := notifier.Run(ctx, hub.Deliver); err != nil {
				log.Error("Event relay stopped: %v", err)
			}
		}()
		return rs, notifier, nil

	default:
		return memory.New(), hub, nil
	}
}
