package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ananth-NQI/rel8-backend/database"
	"github.com/Ananth-NQI/rel8-backend/internal/config"
	"github.com/Ananth-NQI/rel8-backend/internal/logging"
	"github.com/Ananth-NQI/rel8-backend/internal/routes"
	"github.com/Ananth-NQI/rel8-backend/internal/services"
	"github.com/Ananth-NQI/rel8-backend/internal/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "rel8",
		Short:         "SMS predictor/outcome tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE: func(_ *cobra.Command, _ []string) error {
			return serve(envFile)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return migrate(envFile, cmd)
		},
	})
	return root
}

func setup(envFile string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func migrate(envFile string, cmd *cobra.Command) error {
	cfg, log, err := setup(envFile)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.Database.Driver == "memory" {
		return fmt.Errorf("DB_DRIVER=memory has no schema to migrate")
	}
	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "migrated %s database\n", cfg.Database.Driver)
	return nil
}

func openStore(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.Database.Driver == "memory" {
		log.Warn("using in-memory storage (not for production!)")
		return storage.NewMemoryStore(), nil
	}

	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	log.Info("running database migrations")
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	return storage.NewDatabaseStore(db), nil
}

func serve(envFile string) error {
	cfg, log, err := setup(envFile)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	// Conversation state and per-sender locks are shared through redis when
	// it is configured, otherwise kept in this process.
	var (
		conversations storage.ConversationStore
		locker        storage.Locker
		redisClient   *redis.Client
	)
	if cfg.Redis.Addr != "" {
		redisClient, err = storage.NewRedisClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		conversations = storage.NewRedisConversationStore(redisClient, cfg.ConversationTTL)
		locker = storage.NewRedisLocker(redisClient, cfg.LockTTL, func(key string) {
			log.Warn("sender lock expired before release", zap.String("phone", key), zap.Duration("lock_ttl", cfg.LockTTL))
		})
		log.Info("using redis for conversations and locks", zap.String("addr", cfg.Redis.Addr))
	} else {
		memConversations := storage.NewMemoryConversationStore(cfg.ConversationTTL, log)
		memConversations.StartCleanup(ctx, time.Minute)
		conversations = memConversations
		locker = storage.NewKeyedMutex()
		log.Warn("REDIS_ADDR not set, conversations and locks are local to this instance")
	}

	var sender services.Sender
	if cfg.TwilioConfigured() {
		twilioService, err := services.NewTwilioService(cfg.Twilio, log)
		if err != nil {
			return err
		}
		sender = twilioService
		log.Info("Twilio service initialized")
	} else {
		log.Warn("Twilio credentials not found, variable confirmations will not be sent")
	}

	messages := services.NewMessageService(services.MessageServiceOptions{
		Store:         store,
		Conversations: conversations,
		Locker:        locker,
		Clock:         services.SystemClock{},
		Sender:        sender,
		Logger:        log,
		SiteURL:       cfg.SiteURL,
		DefaultRegion: cfg.DefaultRegion,
	})

	// Create fiber app
	app := fiber.New(fiber.Config{
		AppName: "rel8 v" + routes.Version,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Middleware
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Admin-Token",
		AllowMethods: "GET, POST, PUT, OPTIONS",
	}))

	routes.SetupRoutes(app, cfg, messages, log)

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("shutdown failed", zap.Error(err))
		}
	}()

	log.Info("rel8 backend starting",
		zap.String("port", cfg.Port),
		zap.String("environment", cfg.Environment),
		zap.String("storage", cfg.Database.Driver),
		zap.Bool("redis", redisClient != nil),
		zap.Bool("twilio", sender != nil),
		zap.Bool("webhook_validation", cfg.Twilio.ValidateWebhook),
	)

	if err := app.Listen(":" + cfg.Port); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}
