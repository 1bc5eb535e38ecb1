package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/cartloom/hookrelay/internal/health"
)

var healthAddr string

// healthCmd checks the worker's ops endpoint.
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the health of a worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+healthAddr+"/healthz", nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		defer resp.Body.Close()

		var st health.Status
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			return fmt.Errorf("unreadable health response: %w", err)
		}
		if st.Status == "ok" {
			fmt.Println("✓ worker is healthy")
		} else {
			fmt.Printf("✗ worker is %s: database %s\n", st.Status, st.Database)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().StringVar(&healthAddr, "addr", "localhost:8082", "worker ops address (host:port)")
	rootCmd.AddCommand(healthCmd)
}
