package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/msaedi/instructly-sub008/internal/audit"
	"github.com/msaedi/instructly-sub008/internal/availability"
	"github.com/msaedi/instructly-sub008/internal/config"
	"github.com/msaedi/instructly-sub008/internal/credit"
	"github.com/msaedi/instructly-sub008/internal/db"
	"github.com/msaedi/instructly-sub008/internal/logger"
	"github.com/msaedi/instructly-sub008/internal/notify"
	"github.com/msaedi/instructly-sub008/internal/payment"
	"github.com/msaedi/instructly-sub008/internal/planner"
	"github.com/msaedi/instructly-sub008/internal/reservation"
	"github.com/msaedi/instructly-sub008/internal/server"
	"github.com/msaedi/instructly-sub008/internal/settlement"
	"github.com/msaedi/instructly-sub008/internal/worker"
)

const currency = "usd"

// @title Lessons API
// @version 1.0
// @description Instructor availability, lesson booking and settlement.
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logger.Info("Starting lessons service", "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.Connect(ctx, cfg.DatabaseURL, db.Pool{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	logger.Info("Database connected")

	if err := db.RunMigrations(database, cfg.MigrationsPath); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Migrations completed")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Warn("Redis unreachable; notifications and scheduled tasks will fail until it is back", "error", err)
	}

	var publisher notify.Publisher = notify.LogPublisher{}
	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		kp, err := notify.NewKafkaPublisher(brokers, cfg.KafkaNotificationsTopic)
		if err != nil {
			logger.Fatalf("Failed to create Kafka publisher: %v", err)
		}
		defer kp.Close()
		publisher = kp
		logger.Info("Publishing notifications to Kafka", "topic", cfg.KafkaNotificationsTopic)
	}
	notifier := notify.New(rdb, publisher)
	go notifier.Start(ctx)

	var auditWriter audit.Writer = audit.NewSQLWriter(database)
	if cfg.MongoURI != "" {
		mw, client, err := audit.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			logger.Fatalf("Failed to connect to MongoDB: %v", err)
		}
		defer client.Disconnect(context.Background())
		auditWriter = mw
		logger.Info("Writing audit log to MongoDB", "database", cfg.MongoDatabase)
	}

	var gateway payment.Gateway = payment.Offline{}
	if cfg.StripeKey != "" {
		gateway = payment.NewStripeGateway(cfg.StripeKey, currency)
	} else {
		logger.Warn("STRIPE_KEY not set; payments are recorded but not charged")
	}

	queue := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer queue.Close()
	tasks := worker.NewClient(queue)

	txRunner := db.NewTxRunner(database, cfg.TxMaxAttempts)
	credits := credit.NewRepository(database)

	reservationRepo := reservation.NewRepository(database, reservation.Strategy(cfg.OverlapStrategy))
	engine := settlement.NewEngine(
		txRunner,
		settlement.NewRepository(database),
		credits,
		gateway,
		reservationRepo,
		settlement.PolicyFromConfig(cfg),
		settlement.WithScheduler(tasks),
		settlement.WithNotifier(notifier),
		settlement.WithAudit(auditWriter),
	)

	availabilityRepo := availability.NewRepository(database)
	guard := availability.NewGuard(availabilityRepo)
	plannerService := planner.NewService(txRunner, availabilityRepo, reservationRepo, redislock.New(rdb), cfg.MergeToleranceMinutes)

	reservationService, err := reservation.NewService(
		txRunner,
		reservationRepo,
		guard,
		engine,
		cfg.LookupCacheSize,
		cfg.LookupCacheTTL,
		reservation.WithScheduler(tasks),
		reservation.WithNotifier(notifier),
		reservation.WithAudit(auditWriter),
	)
	if err != nil {
		logger.Fatalf("Failed to create reservation service: %v", err)
	}

	w, err := worker.New(cfg.RedisAddr, cfg.WorkerConcurrency, cfg.RecoveryInterval,
		worker.NewHandlers(reservationService, engine, cfg.RecoveryAge))
	if err != nil {
		logger.Fatalf("Failed to create worker: %v", err)
	}
	if err := w.Start(); err != nil {
		logger.Fatalf("Failed to start worker: %v", err)
	}

	srv := server.New(cfg, server.Handlers{
		Availability: availability.NewHandler(availability.NewService(availabilityRepo, guard)),
		Planner:      planner.NewHandler(plannerService),
		Reservations: reservation.NewHandler(reservationService),
		Credits:      credit.NewHandler(credits),
	}, database)

	serverErrChan := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on port %s", cfg.Port)
		if err := srv.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v", sig)
	case err := <-serverErrChan:
		logger.Errorf("Server error: %v", err)
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error during server shutdown: %v", err)
	}
	w.Shutdown()
	cancel()

	logger.Info("Server stopped")
}
