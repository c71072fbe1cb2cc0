package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/maynagashev/assetkeeper/internal/logger"
	"github.com/maynagashev/assetkeeper/internal/metrics"
)

// RequestLogger пишет в журнал и метрики каждый запрос: метод, шаблон маршрута, код, длительность.
func RequestLogger(log *logger.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	log = log.Component("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			d := time.Since(start)
			m.RecordHTTPRequest(r.Method, route, strconv.Itoa(status), d)

			event := log.Info()
			if status >= http.StatusInternalServerError {
				event = log.Error()
			}
			event.
				Str("method", r.Method).
				Str("route", route).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", d).
				Str("request_id", chimw.GetReqID(r.Context())).
				Msg("HTTP-запрос")
		})
	}
}
