package api

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/middleware"
)

// RouterConfig carries the pieces NewRouter mounts besides the Handler.
// Every field is optional.
type RouterConfig struct {
	Analytics *analytics.Handler
	Health    *health.Checker
	Metrics   *metrics.Metrics
	Limiter   *middleware.Limiter
	CORS      *middleware.CORSConfig
	Timeout   time.Duration
}

// NewRouter builds the service handler.
//
// Route table:
//
//	POST   /api/v1/resolve               link text against the index
//	POST   /api/v1/index/rebuild         reload the source and rebuild
//	GET    /api/v1/index/stats           current snapshot statistics
//	GET    /api/v1/index/terms/{term}    exact target or ambiguous candidates
//	POST   /api/v1/documents             upsert (or rename) a document
//	DELETE /api/v1/documents?path=       delete a document
//	GET    /api/v1/analytics             live resolve analytics
//	GET    /api/v1/analytics/history     persisted analytics snapshots
//	GET    /api/v1/cache/stats           resolve cache counters
//	POST   /api/v1/cache/invalidate      drop cached results
//	GET    /health/live, /health/ready   probes
//
// Middleware chain (outermost first):
//
//	RequestID, Logging, Metrics, CORS, RateLimit, Timeout
func NewRouter(h *Handler, rc RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/resolve", h.Resolve)

	mux.HandleFunc("POST /api/v1/index/rebuild", h.Rebuild)
	mux.HandleFunc("GET /api/v1/index/stats", h.IndexStats)
	mux.HandleFunc("GET /api/v1/index/terms/{term}", h.LookupTerm)

	mux.HandleFunc("POST /api/v1/documents", h.PutDocument)
	mux.HandleFunc("DELETE /api/v1/documents", h.DeleteDocument)

	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)

	if rc.Analytics != nil {
		mux.HandleFunc("GET /api/v1/analytics", rc.Analytics.Stats)
		mux.HandleFunc("GET /api/v1/analytics/history", rc.Analytics.History)
	}
	if rc.Health != nil {
		mux.HandleFunc("GET /health/live", rc.Health.LiveHandler())
		mux.HandleFunc("GET /health/ready", rc.Health.ReadyHandler())
	}

	mws := []func(http.Handler) http.Handler{middleware.RequestID, middleware.Logging}
	if rc.Metrics != nil {
		mws = append(mws, middleware.Metrics(rc.Metrics))
	}
	if rc.CORS != nil {
		mws = append(mws, middleware.CORS(*rc.CORS))
	}
	if rc.Limiter != nil {
		mws = append(mws, middleware.RateLimit(rc.Limiter, rc.Metrics))
	}
	mws = append(mws, middleware.Timeout(rc.Timeout))
	return middleware.Chain(mux, mws...)
}
