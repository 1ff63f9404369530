// Package httpapi exposes a small debug HTTP surface over a running
// Executor: liveness, a JSON status snapshot, and Prometheus metrics.
// Consensus traffic itself never passes through HTTP; this is operator-facing
// only.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CoinCulture/agnes/consensus/bft"
)

// Status reports a point-in-time snapshot of the consensus engine. It is
// kept generic-free, with the decided value rendered as a string, so the
// router package doesn't need to be parameterized over V.
type Status struct {
	Height       uint64 `json:"height"`
	Round        int    `json:"round"`
	Step         string `json:"step"`
	Decided      bool   `json:"decided"`
	DecidedRound int    `json:"decided_round,omitempty"`
	DecidedValue string `json:"decided_value,omitempty"`
}

// StatusProvider is implemented by the engine.Executor wrapper the caller
// constructs, translating its generic State()/Decided() into the
// string-rendered Status above.
type StatusProvider interface {
	Status() Status
}

// Config bundles the collaborators the router needs.
type Config struct {
	Status        StatusProvider
	RateLimiter   *RateLimiter
	Observability *Observability
}

// New builds the debug HTTP handler: /healthz, /status, and /metrics.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()

	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/status", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware("status"))
		}
		sr.Get("/", func(w http.ResponseWriter, r *http.Request) {
			if cfg.Status == nil {
				http.Error(w, "status unavailable", http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(cfg.Status.Status())
		})
	})

	if cfg.Observability != nil {
		r.Handle("/metrics", cfg.Observability.MetricsHandler())
	}

	return r
}

// FormatStatus renders a state snapshot's fields into the JSON-friendly
// Status shape. The decided value is rendered with fmt.Sprint.
func FormatStatus[V comparable](height uint64, round int, step bft.Step, decided bool, decidedRound int, decidedValue V) Status {
	s := Status{
		Height:  height,
		Round:   round,
		Step:    step.String(),
		Decided: decided,
	}
	if decided {
		s.DecidedRound = decidedRound
		s.DecidedValue = fmt.Sprint(decidedValue)
	}
	return s
}
