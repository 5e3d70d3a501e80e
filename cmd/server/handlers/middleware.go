package handlers

import (
	"net/http"
	"time"

	"github.com/hitlai/missionrunner/logger"
)

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLogger logs every request with method, path, status and duration.
type RequestLogger struct {
	logger logger.Logger
}

// NewRequestLogger creates request logging middleware.
func NewRequestLogger(log logger.Logger) *RequestLogger {
	return &RequestLogger{logger: log}
}

// Handler wraps an HTTP handler with request logging.
func (m *RequestLogger) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		m.logger.Info(r.Context(), "request handled", logger.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      recorder.status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}
