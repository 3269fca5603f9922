package middleware

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/logger"
)

// Logging writes one access-log line per request. Health probes are logged
// at debug level.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newRecorder(w)
		next.ServeHTTP(rec, r)

		log := logger.FromContext(r.Context())
		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		switch {
		case isProbe(r.URL.Path):
			log.Debug("request", attrs...)
		case rec.status >= http.StatusInternalServerError:
			log.Error("request", attrs...)
		default:
			log.Info("request", attrs...)
		}
	})
}

func isProbe(path string) bool {
	return path == "/health" || path == "/health/live" || path == "/health/ready"
}
