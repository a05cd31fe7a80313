package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"zapask/internal/logging"
)

// LoggingMiddleware logs HTTP requests with structured logging and puts a
// request-scoped logger into the request context.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Reuse the caller's request ID, or generate one
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		// Create a response writer that captures status code
		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		// Add request ID to headers
		rw.Header().Set("X-Request-ID", requestID)

		// Call the next handler with a request-scoped logger
		logger := logging.RequestLogger(r.Context(), requestID, r.Method, r.URL.Path)
		next.ServeHTTP(rw, r.WithContext(logging.ContextWithLogger(r.Context(), logger)))

		// Log the request
		logger.Info("HTTP Request",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("user_agent", r.UserAgent()),
			slog.Int("status_code", rw.statusCode),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
