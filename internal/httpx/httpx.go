// Package httpx serves the operational HTTP surface of storyline: liveness,
// store readiness and the metrics snapshot. Requests are logged with their
// correlation ID.
package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/haukened/storyline/internal/metrics"
)

// Handler wires the operational endpoints. Construct via New.
type Handler struct {
	Readiness    func(context.Context) error // store check for /readyz; nil means always ready
	Metrics      metrics.SnapshotProvider    // /metrics is mounted only when set
	MetricsToken string                      // bearer token /metrics requires when non-empty
	Logger       *slog.Logger
}

// New returns a configured Handler.
func New(readiness func(context.Context) error, snapshots metrics.SnapshotProvider, token string, log *slog.Logger) *Handler {
	return &Handler{Readiness: readiness, Metrics: snapshots, MetricsToken: token, Logger: log}
}

func (h *Handler) log() *slog.Logger {
	if h.Logger == nil {
		return slog.Default().With("domain", "http")
	}
	return h.Logger.With("domain", "http")
}

// Router mounts the routes behind the correlation, access log and header
// middleware.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /readyz", h.handleReady)
	if h.Metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler(h.Metrics, h.MetricsToken))
	}
	return h.withRequest(h.accessLog(h.secureHeaders(mux)))
}
