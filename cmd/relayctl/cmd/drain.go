package cmd

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/cartloom/hookrelay/internal/config"
	"github.com/cartloom/hookrelay/internal/logging"
	"github.com/cartloom/hookrelay/internal/observability"
	"github.com/cartloom/hookrelay/internal/transport"
	"github.com/cartloom/hookrelay/internal/webhook"
)

// drainCmd runs observability drain cycles immediately instead of
// waiting for the reporter's next period.
var drainCmd = &cobra.Command{
	Use:   "drain [event-type]",
	Short: "Drain the observability buffer now",
	Long: `Drain delivers pending observability samples to their subscribers
without waiting for the reporter's next period. With no argument every
observability event type is drained to exhaustion.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		cfg := config.FromEnv()
		svc, _, cleanup, err := connectService(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()

		logger := logging.New("relayctl")
		buffer := observability.NewBuffer(rdb, cfg.Observability.BufferPrefix, 2*cfg.Observability.ReportPeriod)
		router := transport.NewRouter(mustSigner(cfg),
			transport.NewHTTPSender(cfg.Webhook.Timeout),
			transport.NewNSQSender(),
			transport.NewNATSSender(),
		)
		reporter := observability.NewReporter(buffer, svc, router, nil,
			cfg.Webhook.SiteDomain, cfg.Observability.BatchSize, cfg.Observability.ReportPeriod, logger)

		eventTypes := webhook.ObservabilityEvents
		if len(args) == 1 {
			if !webhook.IsObservabilityEvent(args[0]) {
				return fmt.Errorf("%q is not an observability event type", args[0])
			}
			eventTypes = args[:1]
		}

		for _, eventType := range eventTypes {
			total := 0
			for {
				n, err := reporter.ReportEvents(ctx, eventType, cfg.Observability.BatchSize)
				if err != nil {
					return fmt.Errorf("draining %s: %w", eventType, err)
				}
				total += n
				if n < cfg.Observability.BatchSize {
					break
				}
			}
			fmt.Printf("✓ drained %d samples for %s\n", total, eventType)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(drainCmd)
}
