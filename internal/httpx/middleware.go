package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// CorrelationIDHeader carries the request correlation ID in and out.
const CorrelationIDHeader = "X-Correlation-ID"

type requestKey struct{}

// request is the per-request state the middleware chain shares.
type request struct {
	cid string
	log *slog.Logger
}

// withRequest gives every request a correlation ID and a logger tagged with
// it. An inbound X-Correlation-ID is kept only when it is a UUID, so callers
// cannot write arbitrary text into the logs.
func (h *Handler) withRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(CorrelationIDHeader)
		if _, err := uuid.Parse(cid); err != nil {
			cid = uuid.NewString()
		}
		req := request{cid: cid, log: h.log().With("cid", cid)}
		w.Header().Set(CorrelationIDHeader, cid)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestKey{}, req)))
	})
}

// CorrelationID returns the correlation ID of the request carried by ctx.
func CorrelationID(ctx context.Context) (string, bool) {
	req, ok := ctx.Value(requestKey{}).(request)
	return req.cid, ok
}

// requestLog returns the request-scoped logger, or the handler's logger
// outside the middleware chain.
func (h *Handler) requestLog(ctx context.Context) *slog.Logger {
	if req, ok := ctx.Value(requestKey{}).(request); ok {
		return req.log
	}
	return h.log()
}

// secureHeaders sets the headers every JSON or plain-text response carries.
func (h *Handler) secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("X-Content-Type-Options", "nosniff")
		hdr.Set("Referrer-Policy", "no-referrer")
		hdr.Set("Cache-Control", "no-store")
		hdr.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// accessLog writes one debug record per request through the request logger.
func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		h.requestLog(r.Context()).Debug("request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status, "ms", time.Since(start).Milliseconds())
	})
}
