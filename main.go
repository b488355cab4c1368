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

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"chat-sync/internal/auth"
	"chat-sync/internal/config"
	"chat-sync/internal/conversations"
	"chat-sync/internal/db"
	"chat-sync/internal/gateway"
	"chat-sync/internal/handlers"
	"chat-sync/internal/identity"
	"chat-sync/internal/logger"
	"chat-sync/internal/media"
	"chat-sync/internal/messagelog"
	"chat-sync/internal/middleware"
	"chat-sync/internal/observability"
	"chat-sync/internal/rabbitmq"
	"chat-sync/internal/registration"
	"chat-sync/internal/repositories"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/ws"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "chat-sync",
	Short:        "Realtime one-to-one messaging sync service",
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, websocket and gRPC health servers",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE:  runMigrate,
}

var rollback bool

func init() {
	migrateCmd.Flags().BoolVar(&rollback, "down", false, "Revert the most recent migration instead")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}

func bootstrap() (*config.Config, zerolog.Logger, error) {
	loadEnvFiles()
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger.New(cfg), nil
}

func connectDB(cfg *config.Config) (*sqlx.DB, error) {
	return db.Connect(db.Options{
		DSN:             cfg.DBDSN,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
	})
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	database, err := connectDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	run := db.Migrate
	if rollback {
		run = db.Rollback
	}
	res, err := run(database)
	if err != nil {
		return err
	}
	log.Info().Uint("version", res.Version).Bool("dirty", res.Dirty).Bool("changed", res.Changed).Msg("migrations finished")
	return nil
}

type stores struct {
	users    repositories.UserRepository
	messages repositories.MessageRepository
	recent   repositories.RecentRepository
	db       *sqlx.DB
}

func openStores(cfg *config.Config, log zerolog.Logger) (*stores, error) {
	if cfg.StoreBackend == "memory" {
		log.Warn().Msg("using in-memory store; data is lost on restart")
		mem := repositories.NewMemoryStore()
		return &stores{users: mem, messages: mem, recent: mem}, nil
	}

	database, err := connectDB(cfg)
	if err != nil {
		return nil, err
	}
	res, err := db.Migrate(database)
	if err != nil {
		database.Close()
		return nil, err
	}
	log.Info().Uint("version", res.Version).Bool("changed", res.Changed).Msg("database migrated")
	return &stores{
		users:    repositories.NewUserRepo(database),
		messages: repositories.NewMessageRepo(database),
		recent:   repositories.NewRecentRepo(database),
		db:       database,
	}, nil
}

func openMediaStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (media.Storage, error) {
	if cfg.IsS3Storage() {
		return media.NewS3Storage(ctx, cfg, log)
	}
	return media.NewLocalStorage(cfg.MediaLocalStoragePath, log)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Environment, log)

	st, err := openStores(cfg, log)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}

	keys, activeKID, err := cfg.SigningKeys()
	if err != nil {
		return err
	}
	tokens, err := auth.NewJWTManagerFromKeys(keys, activeKID, cfg.TokenTTL)
	if err != nil {
		return err
	}

	accounts, err := identity.NewService(st.users, tokens, cfg.UserCacheSize, log)
	if err != nil {
		return err
	}
	index := conversations.NewIndex(st.recent, accounts, log)
	messages := messagelog.NewLog(st.messages, accounts, index, cfg.HistoryPageSize, cfg.MaxMessageLength, log)
	gw := gateway.New(accounts, index, messages, cfg.SubscriberBuffer, log)
	index.SetNotifier(gw)

	var relay *gateway.RedisRelay
	if cfg.UsesRedisRelay() {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer client.Close()
		relay = gateway.NewRedisRelay(client, cfg.RedisChannel, log)
		gw.SetRelay(relay)
	}

	storage, err := openMediaStorage(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initialize media storage: %w", err)
	}
	blobs := media.NewService(storage, cfg.MediaPublicBaseURL, cfg.MediaMaxBytes, log)
	registrar := registration.NewRegistrar(accounts, blobs, log)

	limiter := middleware.NewLimiterStore(cfg.RateLimitPerMinute, cfg.RateLimitBurst, 5*time.Minute)
	defer limiter.Stop()

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.RequestID())

	authMiddleware := middleware.AuthMiddleware(accounts)
	authHandler := handlers.NewAuthHandler(registrar, accounts, audit, cfg.MediaMaxBytes, log)
	chatHandler := handlers.NewChatHandler(messages, index, log)
	mediaHandler := handlers.NewMediaHandler(blobs, log)
	recentWS := ws.NewRecentWebSocketHandler(gw, log)

	authGroup := router.Group("/auth", middleware.RateLimit(limiter))
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)

	router.GET("/me", authMiddleware, authHandler.Me)
	router.GET("/users/:uid", authMiddleware, authHandler.GetUser)

	router.POST("/messages", authMiddleware, chatHandler.SendMessage)
	router.GET("/conversations", authMiddleware, chatHandler.ListConversations)
	router.DELETE("/conversations/:peer_uid", authMiddleware, chatHandler.HideConversation)
	router.GET("/conversations/:peer_uid/messages", authMiddleware, chatHandler.GetMessages)

	router.GET(media.RoutePrefix+"*key", mediaHandler.Download)
	router.GET("/ws/recent", recentWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if st.db != nil {
			if err := st.db.PingContext(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		body := gin.H{"status": "ok", "sessions": gw.SessionCount()}
		if err := blobs.Health(c.Request.Context()); err != nil {
			body["media"] = err.Error()
		}
		c.JSON(http.StatusOK, body)
	})
	handlers.RegisterDebugRoutes(router, audit, gw, cfg.Environment == "development")

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	health := observability.NewHealthServer(cfg.GRPCHealthAddr(), log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("mode", rabbitmq.PublisherMode(publisher)).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return health.Run(gctx)
	})
	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx, gw.Dispatch)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		gw.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("application exited cleanly")
	return nil
}
