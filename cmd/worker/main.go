package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/cartloom/hookrelay/internal/config"
	"github.com/cartloom/hookrelay/internal/db"
	"github.com/cartloom/hookrelay/internal/delivery"
	"github.com/cartloom/hookrelay/internal/health"
	"github.com/cartloom/hookrelay/internal/logging"
	"github.com/cartloom/hookrelay/internal/metrics"
	"github.com/cartloom/hookrelay/internal/observability"
	"github.com/cartloom/hookrelay/internal/retry"
	"github.com/cartloom/hookrelay/internal/signature"
	"github.com/cartloom/hookrelay/internal/store/postgres"
	"github.com/cartloom/hookrelay/internal/tracing"
	"github.com/cartloom/hookrelay/internal/tracker"
	"github.com/cartloom/hookrelay/internal/transport"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New("hookrelay-worker")

	shutdownTracing, err := tracing.InitTracing(ctx, "hookrelay-worker")
	if err != nil {
		logger.Plain().WithError(err).Fatal("tracing init failed")
	}
	defer shutdownTracing()

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	st := postgres.New(pool)
	if err := st.EnsureSchema(ctx); err != nil {
		logger.Plain().WithError(err).Fatal("schema bootstrap failed")
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Plain().WithError(err).Fatal("invalid redis url")
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	signer, err := signature.NewSigner(cfg.Webhook.SigningKey)
	if err != nil {
		logger.Plain().WithError(err).Fatal("invalid signing key")
	}
	router := transport.NewRouter(signer,
		transport.NewHTTPSender(cfg.Webhook.Timeout),
		transport.NewNSQSender(),
		transport.NewNATSSender(),
	)

	buffer := observability.NewBuffer(rdb, cfg.Observability.BufferPrefix, 2*cfg.Observability.ReportPeriod)
	recorder := observability.NewAttemptRecorder(buffer, logger)
	trk := tracker.New(st, recorder, logger)

	producer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer creation failed")
	}
	defer producer.Stop()
	scheduler := delivery.NewNSQScheduler(producer, cfg.NSQ.DeliveriesTopic, cfg.NSQ.DrainTopic)

	policy := retry.Policy{BaseBackoff: cfg.Retry.BaseBackoff, MaxRetries: cfg.Retry.MaxRetries}
	executor := delivery.NewExecutor(trk, router, policy, cfg.Webhook.SiteDomain, logger)

	syncRouter := transport.NewRouter(signer,
		transport.NewHTTPSender(cfg.Webhook.SyncTimeout),
		transport.NewNSQSender(),
		transport.NewNATSSender(),
	)
	svc := delivery.NewService(st, trk, scheduler, syncRouter, cfg.Webhook.SiteDomain, logger)
	reporter := observability.NewReporter(buffer, svc, router, scheduler,
		cfg.Webhook.SiteDomain, cfg.Observability.BatchSize, cfg.Observability.ReportPeriod, logger)

	// Ops endpoints: liveness plus prometheus scrape.
	opsRouter := chi.NewRouter()
	opsRouter.Use(middleware.Recoverer)
	opsRouter.Get("/healthz", health.HTTPHandler(pool))
	opsRouter.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	opsSrv := &http.Server{Addr: cfg.OpsPort, Handler: opsRouter}
	go func() {
		logger.Plain().WithField("addr", opsSrv.Addr).Info("worker ops server starting")
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Fatal("worker ops server failed")
		}
	}()

	deliveriesConsumer := startDeliveriesConsumer(cfg, executor, scheduler, logger)
	drainConsumer := startDrainConsumer(cfg, reporter, logger)

	logger.Plain().Info("worker started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down worker")
	deliveriesConsumer.Stop()
	drainConsumer.Stop()
	<-deliveriesConsumer.StopChan
	<-drainConsumer.StopChan
	_ = opsSrv.Shutdown(context.Background())
	logger.Plain().Info("worker stopped")
}

// startDeliveriesConsumer consumes async delivery tasks.
func startDeliveriesConsumer(cfg config.Config, executor *delivery.Executor, scheduler *delivery.NSQScheduler, logger *logging.Logger) *nsq.Consumer {
	conf := nsq.NewConfig()
	conf.MaxInFlight = 1000
	// Fallback requeues use the backoff delay; the cap must admit the
	// top of the schedule.
	conf.MaxRequeueDelay = cfg.Retry.BaseBackoff << uint(cfg.Retry.MaxRetries)
	// Redeliveries happen only on worker crash or a failed deferred
	// publish; discards past the cap are logged by LogFailedMessage.
	conf.MaxAttempts = 10

	consumer, err := nsq.NewConsumer(cfg.NSQ.DeliveriesTopic, cfg.NSQ.WorkerChannel, conf)
	if err != nil {
		logger.Plain().WithError(err).Fatal("deliveries consumer creation failed")
	}
	consumer.AddHandler(&deliveryHandler{executor: executor, scheduler: scheduler, logger: logger})

	connectConsumer(consumer, cfg, logger, "deliveries")
	return consumer
}

func startDrainConsumer(cfg config.Config, reporter *observability.Reporter, logger *logging.Logger) *nsq.Consumer {
	consumer, err := nsq.NewConsumer(cfg.NSQ.DrainTopic, cfg.NSQ.WorkerChannel, nsq.NewConfig())
	if err != nil {
		logger.Plain().WithError(err).Fatal("drain consumer creation failed")
	}
	consumer.AddHandler(&drainHandler{reporter: reporter, logger: logger, now: time.Now})

	connectConsumer(consumer, cfg, logger, "drain")
	return consumer
}

func connectConsumer(consumer *nsq.Consumer, cfg config.Config, logger *logging.Logger, name string) {
	// Connecting directly to nsqd forces channel creation instead of the
	// channel being lazily created on first publish.
	if err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr); err != nil {
		logger.Plain().WithField("consumer", name).WithError(err).Fatal("connect to nsqd failed")
	}
	if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
		logger.Plain().WithField("consumer", name).WithError(err).Fatal("connect to lookupd failed")
	}
}
