// Package health serves the worker liveness endpoint.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger reports whether the backing store is reachable. *pgxpool.Pool
// satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status is the body of a health response. Database carries "ok" or the
// ping error text.
type Status struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

const pingTimeout = 2 * time.Second

// HTTPHandler answers 200 while the store responds to pings and 503
// with the ping error once it stops.
func HTTPHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{Status: "ok", Database: "ok"}
		code := http.StatusOK

		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				st = Status{Status: "degraded", Database: err.Error()}
				code = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(st)
	}
}
