// The reporter is the clock of the observability pipeline: on every
// report period it counts pending buffer batches and enqueues one drain
// task per batch for the workers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/redis/go-redis/v9"

	"github.com/cartloom/hookrelay/internal/config"
	"github.com/cartloom/hookrelay/internal/delivery"
	"github.com/cartloom/hookrelay/internal/logging"
	"github.com/cartloom/hookrelay/internal/observability"
	"github.com/cartloom/hookrelay/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New("hookrelay-reporter")

	shutdownTracing, err := tracing.InitTracing(ctx, "hookrelay-reporter")
	if err != nil {
		logger.Plain().WithError(err).Fatal("tracing init failed")
	}
	defer shutdownTracing()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Plain().WithError(err).Fatal("invalid redis url")
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	producer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer creation failed")
	}
	defer producer.Stop()

	buffer := observability.NewBuffer(rdb, cfg.Observability.BufferPrefix, 2*cfg.Observability.ReportPeriod)
	scheduler := delivery.NewNSQScheduler(producer, cfg.NSQ.DeliveriesTopic, cfg.NSQ.DrainTopic)

	// Enqueueing only: subscribers and transports are resolved by the
	// workers that consume the drain tasks.
	reporter := observability.NewReporter(buffer, nil, nil, scheduler,
		cfg.Webhook.SiteDomain, cfg.Observability.BatchSize, cfg.Observability.ReportPeriod, logger)

	logger.Plain().
		WithField("period", cfg.Observability.ReportPeriod.String()).
		WithField("batch_size", cfg.Observability.BatchSize).
		Info("reporter started")

	ticker := time.NewTicker(cfg.Observability.ReportPeriod)
	defer ticker.Stop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)

	for {
		select {
		case <-ticker.C:
			if err := reporter.ReportAll(ctx); err != nil {
				logger.Plain().WithError(err).Error("report cycle failed")
			}
		case <-stop:
			logger.Plain().Info("reporter stopped")
			return
		}
	}
}
