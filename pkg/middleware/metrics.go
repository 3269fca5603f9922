package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Meeting-Linker-Platform/pkg/metrics"
)

// Metrics observes every request: in-flight gauge, a counter by method,
// route and status, and a latency histogram by method and route.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.HTTPRequestsInFlight.Inc()
			start := time.Now()
			rec := newRecorder(w)
			defer func() {
				m.HTTPRequestsInFlight.Dec()
				route := normalizePath(r.URL.Path)
				m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
				m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

// recorder remembers the status code and body size written through it.
type recorder struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func newRecorder(w http.ResponseWriter) *recorder {
	return &recorder{ResponseWriter: w, status: http.StatusOK}
}

func (rw *recorder) WriteHeader(code int) {
	if !rw.written {
		rw.status = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recorder) Write(b []byte) (int, error) {
	rw.written = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

func (rw *recorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// normalizePath keeps route labels bounded: term lookups share one label and
// anything outside the API, health and metrics paths is "other".
func normalizePath(path string) string {
	if rest, ok := strings.CutPrefix(path, "/api/v1/index/terms/"); ok && rest != "" {
		return "/api/v1/index/terms/{term}"
	}
	for _, known := range []string{"/api/v1/", "/health"} {
		if strings.HasPrefix(path, known) {
			return path
		}
	}
	if path == "/metrics" {
		return path
	}
	return "other"
}
