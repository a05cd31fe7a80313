package handlers

import (
	"context"
	"net/http"
	"time"

	"zapask/internal/logging"
)

// Pinger is satisfied by *sql.DB via PingContext and by a redis client
// wrapped in PingFunc.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

func Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Ready reports 503 until every dependency answers a ping.
func Ready(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		for name, dep := range deps {
			if err := dep.PingContext(ctx); err != nil {
				logging.LoggerFromContext(r.Context()).Warn("Readiness check failed", "dependency", name, "error", err)
				http.Error(w, name+" unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Ready"))
	}
}
