package middleware

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/mediguard/mediguard-platform/pkg/logging"
)

const requestInfoKey contextKey = "request_info"

// requestInfo is filled in by inner middleware so the access log can name
// the caller after the handler returns.
type requestInfo struct {
	uid atomic.Value
}

func (i *requestInfo) userID() string {
	uid, _ := i.uid.Load().(string)
	return uid
}

// RequestLogger writes one access-log line per request and echoes the
// request id in X-Request-ID. chi's RequestID value wins when present.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := chimw.GetReqID(r.Context())
			if reqID == "" {
				reqID = r.Header.Get("X-Request-ID")
			}
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqID)

			info := &requestInfo{}
			r = r.WithContext(context.WithValue(r.Context(), requestInfoKey, info))
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				// Hijacked watch connections never write a status.
				status = http.StatusSwitchingProtocols
			}
			attrs := []any{
				"method", r.Method,
				"route", r.URL.Path,
				"request_id", reqID,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if uid := info.userID(); uid != "" {
				attrs = append(attrs, "user_id", uid)
			}
			switch {
			case status >= http.StatusInternalServerError:
				logger.Error("request completed", attrs...)
			case status >= http.StatusBadRequest:
				logger.Warn("request completed", attrs...)
			default:
				logger.Info("request completed", attrs...)
			}
		})
	}
}
