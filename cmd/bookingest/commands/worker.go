package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/stayware/bookingest/internal/logger"
	"github.com/stayware/bookingest/pkg/bus"
	"github.com/stayware/bookingest/pkg/config"
	"github.com/stayware/bookingest/pkg/metrics"
	"github.com/stayware/bookingest/pkg/metrics/prometheus"
	"github.com/stayware/bookingest/pkg/outbox"
	"github.com/stayware/bookingest/pkg/runtime"
	"github.com/stayware/bookingest/pkg/store/mongo"
	"github.com/stayware/bookingest/pkg/store/objectstore"
	"github.com/stayware/bookingest/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a task processing worker",
	Long: `Start a bookingest worker.

The worker consumes task events from the message bus, downloads the
assembled spreadsheet from object storage, validates every row, and
upserts reservations into the durable store. Multiple workers may run
concurrently; task claiming keeps each task on a single worker.

Examples:
  # Start with the default config location
  bookingest worker

  # Start with a custom config file
  bookingest worker --config /etc/bookingest/config.yaml`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
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
	workerID := outbox.WorkerID()

	logger.Info("Starting bookingest worker", "version", Version, "worker_id", workerID)

	mongoClient, err := mongo.Connect(ctx, cfg.MongoDB)
	if err != nil {
		return err
	}
	stores, err := mongo.NewStores(ctx, mongoClient)
	if err != nil {
		_ = mongoClient.Close(ctx)
		return err
	}

	s3Client, err := objectstore.NewS3Client(ctx, cfg.S3)
	if err != nil {
		_ = mongoClient.Close(ctx)
		return err
	}
	objects := objectstore.New(s3Client, cfg.S3, prometheus.NewObjectStoreMetrics())

	busConn, err := bus.Dial(ctx, cfg.RabbitMQ)
	if err != nil {
		_ = mongoClient.Close(ctx)
		return err
	}
	consumer, err := bus.NewConsumer(busConn, bus.QueueWorkerTask, cfg.RabbitMQ.Prefetch)
	if err != nil {
		_ = busConn.Close()
		_ = mongoClient.Close(ctx)
		return err
	}

	proc := worker.New(
		stores.Tasks,
		stores.Events,
		stores.Reservations,
		mongoClient,
		objects,
		cfg.Worker,
		workerID,
		prometheus.NewWorkerMetrics(),
	)

	sup := runtime.New(cfg.ShutdownTimeout)
	sup.Add("consumer", func(ctx context.Context) error {
		return consumer.Run(ctx, proc.Handle)
	})
	sup.Add("broker-watch", watchBroker(busConn))
	if cfg.Metrics.Enabled {
		sup.Add("metrics", metrics.NewServer(cfg.Metrics.Port).Start)
	}

	sup.OnShutdown("rabbitmq", func(context.Context) error {
		_ = consumer.Close()
		return busConn.Close()
	})
	sup.OnShutdown("mongodb", mongoClient.Close)

	return sup.Run(ctx)
}
