package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/example/order-pipeline/internal/logging"
	"github.com/example/order-pipeline/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const HeaderRequestID = "X-Request-ID"

// StatusRecorder captures the status code written by the wrapped handler.
type StatusRecorder struct {
	http.ResponseWriter
	Status int
}

func (r *StatusRecorder) WriteHeader(status int) {
	r.Status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *StatusRecorder) Write(b []byte) (int, error) {
	if r.Status == 0 {
		r.Status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// RequestLogger assigns a request id, puts a logger carrying it into the
// request context and writes one access log line per request.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	log = logging.OrNop(log).With(zap.String("component", "api"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, requestID)

			reqLog := log.With(zap.String("request_id", requestID))
			rec := &StatusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r.WithContext(logging.WithContext(r.Context(), reqLog)))

			if rec.Status == 0 {
				rec.Status = http.StatusOK
			}
			reqLog.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.Status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// Instrument records request count and latency under a fixed route label.
func Instrument(m *metrics.Metrics, route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &StatusRecorder{ResponseWriter: w}
		next(rec, r)
		if rec.Status == 0 {
			rec.Status = http.StatusOK
		}
		m.ObserveHTTP(r.Method, route, strconv.Itoa(rec.Status), time.Since(start).Seconds())
	}
}
