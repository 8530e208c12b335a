// internal/middleware/logging.go
package middleware

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, which
// websocket upgrades need for hijacking.
func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

// LogMiddleware logs every HTTP request with method, path, status and
// duration. Hijacked websocket connections keep the 200 default; their
// lifetime is logged separately by the socket handler.
func LogMiddleware(logger *logrus.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
				"remote":   r.RemoteAddr,
			}).Info("HTTP request")
		})
	}
}

// LogSocketOpen records an accepted websocket upgrade.
func LogSocketOpen(logger *logrus.Logger, remoteAddr, room string) {
	logger.WithFields(logrus.Fields{
		"remote": remoteAddr,
		"room":   room,
	}).Info("websocket connected")
}

// LogSocketClose records a websocket teardown, with the read error that
// ended the session if there was one.
func LogSocketClose(logger *logrus.Logger, remoteAddr, room string, err error) {
	fields := logrus.Fields{
		"remote": remoteAddr,
		"room":   room,
	}
	if err != nil {
		fields["error"] = err
	}
	logger.WithFields(fields).Info("websocket disconnected")
}
