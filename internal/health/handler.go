package health

import (
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"

	"medgate/internal/platform/postgres"
	"medgate/pkg/platform/httputil"
)

// PoolStatter reports database pool statistics.
type PoolStatter interface {
	Stats() postgres.PoolStats
}

// Handler serves the /health endpoints.
type Handler struct {
	probe   *Probe
	errors  *ErrorTracker
	pool    PoolStatter
	rss     RSSFunc
	service string
	version string
	started time.Time
	now     func() time.Time
}

type HandlerOption func(*Handler)

// WithPoolStats adds database pool statistics to /health/metrics.
func WithPoolStats(p PoolStatter) HandlerOption {
	return func(h *Handler) {
		h.pool = p
	}
}

func WithHandlerClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.now = now
	}
}

// WithRSS overrides how resident memory is read for /health/metrics.
func WithRSS(rss RSSFunc) HandlerOption {
	return func(h *Handler) {
		h.rss = rss
	}
}

func NewHandler(probe *Probe, errors *ErrorTracker, service, version string, opts ...HandlerOption) *Handler {
	h := &Handler{
		probe:   probe,
		errors:  errors,
		rss:     ProcessRSS,
		service: service,
		version: version,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.started = h.now()
	return h
}

// Register mounts the endpoints on r, which is expected to sit under /health.
func (h *Handler) Register(r chi.Router) {
	r.Get("/ping", h.handlePing)
	r.Get("/health", h.handleHealth)
	r.Get("/metrics", h.handleMetrics)
	r.Get("/ready", h.handleReady)
	r.Get("/live", h.handleLive)
}

func (h *Handler) handlePing(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": h.now().UTC(),
		"service":   h.service,
		"version":   h.version,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := h.probe.Run(r.Context())
	status := http.StatusOK
	if report.Status == StatusCritical {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, report)
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	report := h.probe.Run(r.Context())
	status := http.StatusOK
	if !report.Ready() {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, map[string]any{
		"ready":     report.Ready(),
		"status":    report.Status,
		"timestamp": report.Timestamp,
	})
}

func (h *Handler) handleLive(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"alive":     true,
		"timestamp": h.now().UTC(),
	})
}

type metricsPayload struct {
	Timestamp   time.Time      `json:"timestamp"`
	Uptime      float64        `json:"uptime_seconds"`
	Database    any            `json:"database"`
	Performance performance    `json:"performance"`
	Errors      map[string]any `json:"errors"`
}

type performance struct {
	Goroutines     int    `json:"goroutines"`
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes   uint64 `json:"heap_sys_bytes"`
	GCCycles       uint32 `json:"gc_cycles"`
	RSSBytes       uint64 `json:"rss_bytes,omitempty"`
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	perf := performance{
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: mem.HeapAlloc,
		HeapSysBytes:   mem.HeapSys,
		GCCycles:       mem.NumGC,
	}
	if h.rss != nil {
		if rss, err := h.rss(r.Context()); err == nil {
			perf.RSSBytes = rss
		}
	}

	var db any = map[string]any{"configured": false}
	if h.pool != nil {
		db = h.pool.Stats()
	}

	now := h.now()
	httputil.WriteSuccess(r.Context(), w, http.StatusOK, metricsPayload{
		Timestamp:   now.UTC(),
		Uptime:      now.Sub(h.started).Seconds(),
		Database:    db,
		Performance: perf,
		Errors: map[string]any{
			"last_hour": h.errors.Recent(),
			"total":     h.errors.Total(),
		},
	})
}
