package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds the HTTP surface settings that live outside the
// handler. Metrics is mounted at MetricsPath when both are set.
type RouterConfig struct {
	CORSOrigins string
	MetricsPath string
	Metrics     http.Handler
}

// NewRouter mounts the inbound webhook route and the /api/v1 management
// routes on a chi router.
func NewRouter(h *Handler, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.observeRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil && strings.TrimSpace(cfg.MetricsPath) != "" {
		r.Method(http.MethodGet, cfg.MetricsPath, cfg.Metrics)
	}

	// provider callbacks authenticate by signature only
	r.Post("/webhooks/inbound/{provider}", h.IngestWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: splitOrigins(cfg.CORSOrigins),
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{
				"Accept",
				"Authorization",
				"Content-Type",
				"X-Request-Id",
			},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: false,
			MaxAge:           300,
		}))

		r.Post("/events", h.RaiseEvent)
		r.Post("/events/{eventID}/refire", h.RefireEvent)

		r.Route("/endpoints", func(r chi.Router) {
			r.Get("/", h.ListEndpoints)
			r.Post("/", h.CreateEndpoint)
			r.Route("/{endpointID}", func(r chi.Router) {
				r.Get("/", h.GetEndpoint)
				r.Patch("/", h.UpdateEndpoint)
				r.Post("/disable", h.DisableEndpoint)
				r.Post("/enable", h.EnableEndpoint)
				r.Post("/test", h.TestEndpoint)
				r.Get("/deliveries", h.ListDeliveryAttempts)
			})
		})
		r.Get("/deliveries", h.ListDeliveryAttempts)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/notifications", h.ListNotifications)
			r.Get("/notifications/unread/count", h.CountUnread)
			r.Post("/notifications/{notificationID}/read", h.MarkNotificationRead)
			r.Get("/preferences", h.ListPreferences)
			r.Put("/preferences", h.SetPreference)
		})
	})
	return r
}

func (h *Handler) observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		result := "success"
		if status >= http.StatusInternalServerError {
			result = "failure"
		} else if status >= http.StatusBadRequest {
			result = "rejected"
		}
		tags := map[string]string{
			"route":  route,
			"method": r.Method,
			"status": result,
		}
		h.obs.Count(r.Context(), "request.total", 1, tags)
		h.obs.Histogram(r.Context(), "request.duration_ms", float64(time.Since(startedAt).Milliseconds()), tags)
		h.obs.Debug(r.Context(), "http request served", map[string]any{
			"route":       route,
			"method":      r.Method,
			"status_code": status,
			"request_id":  middleware.GetReqID(r.Context()),
			"duration_ms": time.Since(startedAt).Milliseconds(),
		})
	})
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
