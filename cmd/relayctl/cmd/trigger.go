package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cartloom/hookrelay/internal/config"
)

var (
	triggerPayload     string
	triggerPayloadFile string
)

// triggerCmd fans an event out to its subscribed webhooks.
var triggerCmd = &cobra.Command{
	Use:   "trigger <event-type>",
	Short: "Trigger an async event delivery",
	Long: `Trigger fans an event out to every active webhook subscribed to the
event type and schedules an async delivery task per webhook.

The payload is read from --payload, --payload-file, or stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eventType := args[0]

		data, err := readPayload()
		if err != nil {
			return err
		}

		ctx, cancel := cmdContext()
		defer cancel()

		cfg := config.FromEnv()
		svc, _, cleanup, err := connectService(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		hooks, err := svc.WebhooksForEvent(ctx, eventType, "")
		if err != nil {
			return err
		}
		if len(hooks) == 0 {
			fmt.Printf("no active webhooks subscribed to %s\n", eventType)
			return nil
		}
		if err := svc.TriggerAsync(ctx, data, eventType, hooks); err != nil {
			return err
		}
		fmt.Printf("✓ scheduled %d deliveries for %s\n", len(hooks), eventType)
		return nil
	},
}

func readPayload() ([]byte, error) {
	switch {
	case triggerPayload != "":
		return []byte(triggerPayload), nil
	case triggerPayloadFile != "":
		data, err := os.ReadFile(triggerPayloadFile)
		if err != nil {
			return nil, fmt.Errorf("reading payload file: %w", err)
		}
		return data, nil
	default:
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			return io.ReadAll(os.Stdin)
		}
		return nil, fmt.Errorf("no payload: use --payload, --payload-file, or pipe to stdin")
	}
}

func init() {
	triggerCmd.Flags().StringVarP(&triggerPayload, "payload", "p", "", "inline JSON payload")
	triggerCmd.Flags().StringVarP(&triggerPayloadFile, "payload-file", "f", "", "file containing the JSON payload")
	rootCmd.AddCommand(triggerCmd)
}
