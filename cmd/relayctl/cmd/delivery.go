package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cartloom/hookrelay/internal/config"
	"github.com/cartloom/hookrelay/internal/db"
	"github.com/cartloom/hookrelay/internal/store"
	"github.com/cartloom/hookrelay/internal/store/postgres"
)

var deliveriesJSON bool

// deliveriesCmd inspects one delivery and its attempts.
var deliveriesCmd = &cobra.Command{
	Use:   "deliveries <delivery-id>",
	Short: "Inspect a delivery and its attempts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		cfg := config.FromEnv()
		pool, err := db.Connect(ctx, cfg.DSN())
		if err != nil {
			return fmt.Errorf("db connect failed: %w", err)
		}
		defer pool.Close()

		d, err := postgres.New(pool).GetDelivery(ctx, args[0])
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("delivery %s not found (successful deliveries are pruned)", args[0])
			}
			return err
		}

		type attemptRow struct {
			ID         string    `json:"id"`
			TaskID     *string   `json:"task_id"`
			Status     string    `json:"status"`
			Response   string    `json:"response"`
			DurationMS int64     `json:"duration_ms"`
			CreatedAt  time.Time `json:"created_at"`
		}
		rows, err := pool.Query(ctx, `
			SELECT id, task_id, status, COALESCE(response, ''), COALESCE(duration_ms, 0), created_at
			FROM hookrelay.event_delivery_attempts
			WHERE delivery_id = $1
			ORDER BY created_at`, d.ID)
		if err != nil {
			return fmt.Errorf("querying attempts: %w", err)
		}
		defer rows.Close()

		var attempts []attemptRow
		for rows.Next() {
			var a attemptRow
			if err := rows.Scan(&a.ID, &a.TaskID, &a.Status, &a.Response, &a.DurationMS, &a.CreatedAt); err != nil {
				return fmt.Errorf("scanning attempt: %w", err)
			}
			attempts = append(attempts, a)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		if deliveriesJSON {
			out := map[string]any{
				"id":         d.ID,
				"status":     d.Status,
				"event_type": d.EventType,
				"webhook":    d.Webhook.Name,
				"target_url": d.Webhook.TargetURL,
				"created_at": d.CreatedAt,
				"attempts":   attempts,
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		fmt.Printf("Delivery %s\n", d.ID)
		fmt.Printf("  Status:     %s\n", d.Status)
		fmt.Printf("  Event type: %s\n", d.EventType)
		fmt.Printf("  Webhook:    %s (%s)\n", d.Webhook.Name, d.Webhook.TargetURL)
		fmt.Printf("  Created:    %s\n", d.CreatedAt.Format(time.RFC3339))
		fmt.Printf("  Attempts:   %d\n", len(attempts))
		for i, a := range attempts {
			fmt.Printf("  [%d] %s  %s  %dms  %s\n", i+1, a.CreatedAt.Format(time.RFC3339), a.Status, a.DurationMS, truncate(a.Response, 80))
		}
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func init() {
	deliveriesCmd.Flags().BoolVar(&deliveriesJSON, "json", false, "output in JSON format")
	rootCmd.AddCommand(deliveriesCmd)
}
