// Package health serves liveness and readiness probes for the HTTP server.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/jensholdgaard/sealedbid/internal/clock"
)

// Status is the probe response body.
type Status struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// Checker is a named dependency check, e.g. the database or the broker.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler serves /healthz and /readyz.
type Handler struct {
	ready    atomic.Bool
	checkers []Checker
	timeout  time.Duration
	clock    clock.Clock
}

// NewHandler creates a Handler. It reports not ready until SetReady(true).
func NewHandler(clk clock.Clock, checkers ...Checker) *Handler {
	return &Handler{checkers: checkers, timeout: 5 * time.Second, clock: clk}
}

// SetReady marks whether the process should receive traffic.
func (h *Handler) SetReady(ready bool) { h.ready.Store(ready) }

// Register mounts the probes on r.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
}

// Liveness always answers 200 while the process serves HTTP.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, Status{Status: "ok", Timestamp: h.now()})
}

// Readiness runs every checker concurrently and answers 503 if the handler
// is not ready or any check fails.
func (h *Handler) Readiness(c *gin.Context) {
	if !h.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, Status{Status: "not_ready", Timestamp: h.now()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		g      errgroup.Group
	)
	for _, chk := range h.checkers {
		g.Go(func() error {
			result := "ok"
			err := chk.Check(ctx)
			if err != nil {
				result = err.Error()
			}
			mu.Lock()
			checks[chk.Name] = result
			mu.Unlock()
			return err
		})
	}

	if err := g.Wait(); err != nil {
		c.JSON(http.StatusServiceUnavailable, Status{Status: "not_ready", Checks: checks, Timestamp: h.now()})
		return
	}
	c.JSON(http.StatusOK, Status{Status: "ready", Checks: checks, Timestamp: h.now()})
}

func (h *Handler) now() string {
	return h.clock.Now().UTC().Format(time.RFC3339)
}
