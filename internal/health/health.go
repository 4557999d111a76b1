// Package health serves the liveness and readiness probes of the bot.
//
// /healthz answers 200 while the process can serve HTTP. /readyz runs every
// registered [Checker] concurrently and answers 503 when any of them fails.
// Both reply with JSON:
//
//	{"status":"fail","uptime":"3m2s","checks":{"cache":"ok","synthesis":"fail: circuit breaker open"}}
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jinwktk/YomiageBotAlpha/internal/resilience"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when it is usable and
// must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed by [New].
type Handler struct {
	checkers []Checker
	started  time.Time
}

func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...), started: time.Now()}
}

// Register mounts /healthz and /readyz on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok", Uptime: h.uptime()})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{Status: "ok", Uptime: h.uptime(), Checks: h.run(r.Context())}
	status := http.StatusOK
	for _, v := range res.Checks {
		if v != "ok" {
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, status, res)
}

func (h *Handler) run(ctx context.Context) map[string]string {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]string, len(h.checkers))
	)
	for _, c := range h.checkers {
		wg.Go(func() {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			v := "ok"
			if err := c.Check(cctx); err != nil {
				v = "fail: " + err.Error()
			}
			mu.Lock()
			out[c.Name] = v
			mu.Unlock()
		})
	}
	wg.Wait()
	return out
}

func (h *Handler) uptime() string {
	return time.Since(h.started).Truncate(time.Second).String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ─── Checkers ────────────────────────────────────────────────────────────────

// CacheWritable fails while a probe write under the cache root fails.
func CacheWritable(store interface{ Writable() error }) Checker {
	return Checker{
		Name:  "cache",
		Check: func(context.Context) error { return store.Writable() },
	}
}

// BreakerClosed fails while the synthesis circuit breaker is open. Half-open
// passes so probe requests can reach the backend.
func BreakerClosed(src interface{ BreakerState() resilience.State }) Checker {
	return Checker{
		Name: "synthesis",
		Check: func(context.Context) error {
			if src.BreakerState() == resilience.StateOpen {
				return errors.New("circuit breaker open")
			}
			return nil
		},
	}
}

// GatewayReady fails until the Discord gateway has delivered Ready.
func GatewayReady(ready func() bool) Checker {
	return Checker{
		Name: "discord",
		Check: func(context.Context) error {
			if !ready() {
				return errors.New("gateway not connected")
			}
			return nil
		},
	}
}
