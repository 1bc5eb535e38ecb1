package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nsqio/go-nsq"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cartloom/hookrelay/internal/config"
	"github.com/cartloom/hookrelay/internal/db"
	"github.com/cartloom/hookrelay/internal/delivery"
	"github.com/cartloom/hookrelay/internal/logging"
	"github.com/cartloom/hookrelay/internal/signature"
	"github.com/cartloom/hookrelay/internal/store/postgres"
	"github.com/cartloom/hookrelay/internal/tracker"
	"github.com/cartloom/hookrelay/internal/transport"
)

var (
	cfgFile string
	timeout time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "Hook Relay CLI - interact with the webhook delivery service",
	Long: `Hook Relay CLI (relayctl) is a command line tool for operating the
webhook delivery service.

You can use it to trigger events, drain the observability buffer,
initialize the database schema, and inspect service health.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.relayctl.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "command timeout")

	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".relayctl")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	if !rootCmd.PersistentFlags().Changed("timeout") {
		if d := viper.GetDuration("timeout"); d > 0 {
			timeout = d
		}
	}
}

// cmdContext returns a context bound to the global timeout flag.
func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// mustSigner builds a signer from the configured signing key, aborting
// the command on a malformed key.
func mustSigner(cfg config.Config) *signature.Signer {
	signer, err := signature.NewSigner(cfg.Webhook.SigningKey)
	cobra.CheckErr(err)
	return signer
}

// connectService wires the full trigger path against the configured
// database and nsqd. The returned cleanup closes both.
func connectService(ctx context.Context, cfg config.Config) (*delivery.Service, *pgxpool.Pool, func(), error) {
	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("db connect failed: %w", err)
	}

	producer, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("nsq producer creation failed: %w", err)
	}

	signer, err := signature.NewSigner(cfg.Webhook.SigningKey)
	if err != nil {
		producer.Stop()
		pool.Close()
		return nil, nil, nil, fmt.Errorf("invalid signing key: %w", err)
	}

	logger := logging.New("relayctl")
	st := postgres.New(pool)
	trk := tracker.New(st, nil, logger)
	scheduler := delivery.NewNSQScheduler(producer, cfg.NSQ.DeliveriesTopic, cfg.NSQ.DrainTopic)
	router := transport.NewRouter(signer,
		transport.NewHTTPSender(cfg.Webhook.SyncTimeout),
		transport.NewNSQSender(),
		transport.NewNATSSender(),
	)
	svc := delivery.NewService(st, trk, scheduler, router, cfg.Webhook.SiteDomain, logger)

	cleanup := func() {
		producer.Stop()
		pool.Close()
	}
	return svc, pool, cleanup, nil
}
