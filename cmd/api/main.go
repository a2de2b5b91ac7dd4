package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"minicrm/internal/config"
	"minicrm/internal/delivery"
	"minicrm/internal/dispatch"
	"minicrm/internal/gateway"
	"minicrm/internal/handler"
	"minicrm/internal/logger"
	"minicrm/internal/migration"
	"minicrm/internal/queue"
	"minicrm/internal/repository"
	"minicrm/internal/service"
	"minicrm/internal/stream"
)

const version = "1.0.0"

func main() {
	// Load .env file (ignore error in production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Must("info").Fatal("failed to load config", zap.Error(err))
	}

	log := logger.Must(cfg.LogLevel)
	defer log.Sync() //nolint:errcheck

	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal("failed to ping database", zap.Error(err))
	}
	log.Info("connected to database")

	if err := migration.RunMigrations(db); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatal("failed to ping redis", zap.Error(err))
	}
	log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))

	store := repository.NewStore(db)

	aggregator := delivery.NewAggregator(store, delivery.Config{
		BatchSize:     cfg.Receipts.BatchSize,
		FlushInterval: cfg.Receipts.FlushInterval,
		QueueSize:     cfg.Receipts.QueueSize,
		MaxAttempts:   cfg.Receipts.MaxAttempts,
	}, log.Named("receipts"))
	if err := aggregator.Start(); err != nil {
		log.Fatal("failed to start receipt aggregator", zap.Error(err))
	}

	// Campaign sends either run on a local pool or go through RabbitMQ to cmd/worker
	var (
		jobs     dispatch.JobQueue
		pool     *dispatch.Pool
		conn     *queue.Connection
		queueURL string
	)
	if cfg.UsesAMQP() {
		queueURL = cfg.GetRabbitMQURL()
		conn, err = queue.NewConnection(queueURL, log.Named("amqp"))
		if err != nil {
			log.Fatal("failed to connect to rabbitmq", zap.Error(err))
		}
		defer conn.Close()

		publisher, err := queue.NewPublisher(conn, cfg.Dispatch.QueueName)
		if err != nil {
			log.Fatal("failed to create publisher", zap.Error(err))
		}
		jobs = publisher
	} else {
		pool = dispatch.NewPool(gateway.NewClient(cfg.Vendor.URL, 0), dispatch.PoolConfig{
			Workers:   cfg.Dispatch.Workers,
			QueueSize: cfg.Dispatch.QueueSize,
		}, log.Named("dispatch"))
		pool.Start()
		jobs = pool
	}
	log.Info("campaign dispatch configured", zap.String("mode", cfg.Dispatch.Mode))

	dispatcher := dispatch.NewDispatcher(store.Logs(), jobs, dispatch.Schedule{
		Interval:  cfg.Dispatch.Interval,
		MaxJitter: cfg.Dispatch.MaxJitter,
	}, log.Named("dispatch"))

	templateSvc := service.NewTemplateService()
	handlers := handler.Handlers{
		Customers: handler.NewCustomerHandler(service.NewIngestionService(store, stream.NewProducer(redisClient), log)),
		Segments:  handler.NewSegmentHandler(service.NewSegmentService(store, log)),
		Campaigns: handler.NewCampaignHandler(service.NewCampaignService(store, templateSvc, dispatcher, log)),
		Receipts:  handler.NewReceiptHandler(service.NewReceiptService(aggregator, log)),
		Health:    handler.NewHealthHandler(service.NewHealthService(db, redisClient, queueURL, version)),
	}

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler.NewRouter(handlers, cfg.Server.AllowedOrigins, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("api server starting",
			zap.String("addr", server.Addr),
			zap.String("env", cfg.Env),
			zap.String("receipt_callback", cfg.Vendor.ReceiptCallbackURL),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("error shutting down server", zap.Error(err))
	}

	dispatcher.Wait()
	if pool != nil {
		pool.Stop()
	}
	aggregator.Stop()

	log.Info("api server stopped")
}
