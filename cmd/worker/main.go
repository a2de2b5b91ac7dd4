package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"minicrm/internal/config"
	"minicrm/internal/dispatch"
	"minicrm/internal/gateway"
	"minicrm/internal/logger"
	"minicrm/internal/queue"
	"minicrm/internal/repository"
	"minicrm/internal/service"
	"minicrm/internal/stream"
)

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

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to ping redis", zap.Error(err))
	}
	log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))

	ingestion := service.NewIngestionService(repository.NewStore(db), stream.NewProducer(redisClient), log)

	consumers := []*stream.Consumer{
		newStreamConsumer(ctx, redisClient, cfg, stream.CustomerStream, stream.CustomerGroup, ingestion.HandleCustomerMessage, log),
		newStreamConsumer(ctx, redisClient, cfg, stream.OrderStream, stream.OrderGroup, ingestion.HandleOrderMessage, log),
	}

	// In amqp mode this process also performs campaign sends published by cmd/api
	var (
		pool         *dispatch.Pool
		sendConsumer *queue.Consumer
	)
	if cfg.UsesAMQP() {
		conn, err := queue.NewConnection(cfg.GetRabbitMQURL(), log.Named("amqp"))
		if err != nil {
			log.Fatal("failed to connect to rabbitmq", zap.Error(err))
		}
		defer conn.Close()

		pool = dispatch.NewPool(gateway.NewClient(cfg.Vendor.URL, 0), dispatch.PoolConfig{
			Workers:   cfg.Dispatch.Workers,
			QueueSize: cfg.Dispatch.QueueSize,
		}, log.Named("dispatch"))
		pool.Start()

		sendConsumer, err = queue.NewConsumer(conn, cfg.Dispatch.QueueName, cfg.Dispatch.Workers, pool, log.Named("amqp"))
		if err != nil {
			log.Fatal("failed to create send consumer", zap.Error(err))
		}
		if err := sendConsumer.Start(); err != nil {
			log.Fatal("failed to start send consumer", zap.Error(err))
		}
		log.Info("consuming campaign sends", zap.String("queue", cfg.Dispatch.QueueName))
	}

	log.Info("worker started", zap.String("consumer", cfg.Ingestion.ConsumerName))

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down gracefully")

	for _, c := range consumers {
		c.Stop()
	}
	if sendConsumer != nil {
		sendConsumer.Stop()
	}
	if pool != nil {
		pool.Stop()
	}

	log.Info("worker stopped")
}

// newStreamConsumer builds a consumer for one ingestion stream and starts reading
func newStreamConsumer(ctx context.Context, client *redis.Client, cfg *config.Config, streamName, group string, handle stream.Handler, log *zap.Logger) *stream.Consumer {
	consumer, err := stream.NewConsumer(client, stream.ConsumerConfig{
		Stream:           streamName,
		Group:            group,
		Consumer:         cfg.Ingestion.ConsumerName,
		Block:            cfg.Ingestion.Block,
		Count:            cfg.Ingestion.Count,
		Backoff:          cfg.Ingestion.Backoff,
		MaxDeliveries:    cfg.Ingestion.MaxDeliveries,
		DeadLetterStream: cfg.Ingestion.DeadLetterStream,
	}, handle, log)
	if err != nil {
		log.Fatal("failed to create stream consumer", zap.String("stream", streamName), zap.Error(err))
	}

	if err := consumer.Start(ctx); err != nil {
		log.Fatal("failed to start stream consumer", zap.String("stream", streamName), zap.Error(err))
	}

	return consumer
}
