package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stayware/bookingest/internal/logger"
	"github.com/stayware/bookingest/pkg/api"
	"github.com/stayware/bookingest/pkg/api/handlers"
	"github.com/stayware/bookingest/pkg/bus"
	"github.com/stayware/bookingest/pkg/config"
	"github.com/stayware/bookingest/pkg/metrics"
	"github.com/stayware/bookingest/pkg/metrics/prometheus"
	"github.com/stayware/bookingest/pkg/outbox"
	"github.com/stayware/bookingest/pkg/runtime"
	"github.com/stayware/bookingest/pkg/session"
	"github.com/stayware/bookingest/pkg/store/mongo"
	"github.com/stayware/bookingest/pkg/store/objectstore"
	"github.com/stayware/bookingest/pkg/upload"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the upload API server",
	Long: `Start the bookingest upload API server.

The API accepts chunked spreadsheet uploads, assembles them in object
storage, records ingestion tasks, and serves task status and error reports.
It also runs the outbox dispatcher that publishes pending task events to
the message broker.

Examples:
  # Start with the default config location
  bookingest api

  # Start with a custom config file
  bookingest api --config /etc/bookingest/config.yaml

  # Start with environment variable overrides
  BOOKINGEST_LOGGING_LEVEL=DEBUG bookingest api`,
	RunE: runAPI,
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	ctx := cmd.Context()

	logger.Info("Starting bookingest API", "version", Version)

	mongoClient, err := mongo.Connect(ctx, cfg.MongoDB)
	if err != nil {
		return err
	}
	stores, err := mongo.NewStores(ctx, mongoClient)
	if err != nil {
		_ = mongoClient.Close(ctx)
		return err
	}

	redisClient, err := session.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		_ = mongoClient.Close(ctx)
		return err
	}
	sessions := session.NewRedisStore(redisClient, cfg.Redis.SessionTTL)

	s3Client, err := objectstore.NewS3Client(ctx, cfg.S3)
	if err != nil {
		_ = redisClient.Close()
		_ = mongoClient.Close(ctx)
		return err
	}
	objects := objectstore.New(s3Client, cfg.S3, prometheus.NewObjectStoreMetrics())

	busConn, err := bus.Dial(ctx, cfg.RabbitMQ)
	if err != nil {
		_ = redisClient.Close()
		_ = mongoClient.Close(ctx)
		return err
	}
	publisher, err := bus.NewPublisher(busConn, bus.ExchangeEvents)
	if err != nil {
		_ = busConn.Close()
		_ = redisClient.Close()
		_ = mongoClient.Close(ctx)
		return err
	}

	dispatcher := outbox.New(stores.Events, mongoClient, publisher, cfg.Outbox, prometheus.NewOutboxMetrics())
	assembler := upload.New(sessions, objects, stores.Tasks)

	router := api.NewRouter(api.RouterDeps{
		Assembler: assembler,
		Tasks:     stores.Tasks,
		Health: map[string]handlers.Pinger{
			"mongodb": handlers.PingerFunc(mongoClient.Ping),
			"redis": handlers.PingerFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		},
		RootAPIKey:    cfg.API.RootAPIKey,
		MaxChunkBytes: cfg.API.MaxChunkBytes,
	})
	server := api.NewServer(cfg.API, router)

	sup := runtime.New(cfg.ShutdownTimeout)
	sup.Add("http-api", server.Start)
	sup.Add("outbox-dispatcher", dispatcher.Run)
	sup.Add("broker-watch", watchBroker(busConn))
	if cfg.Metrics.Enabled {
		sup.Add("metrics", metrics.NewServer(cfg.Metrics.Port).Start)
	}

	sup.OnShutdown("rabbitmq", func(context.Context) error {
		_ = publisher.Close()
		return busConn.Close()
	})
	sup.OnShutdown("redis", func(context.Context) error {
		return redisClient.Close()
	})
	sup.OnShutdown("mongodb", mongoClient.Close)

	logger.Info("API listening", "host", cfg.API.Host, "port", cfg.API.Port)
	return sup.Run(ctx)
}

// watchBroker turns an unexpected broker disconnect into a component
// failure so the supervisor tears the process down. The outbox keeps
// unpublished events durable across the restart.
func watchBroker(conn *bus.Connection) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		select {
		case amqpErr := <-conn.Lost():
			if amqpErr != nil {
				return fmt.Errorf("rabbitmq connection lost: %w", amqpErr)
			}
			return errors.New("rabbitmq connection closed")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
