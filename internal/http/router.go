package http

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"delivery-backend/internal/config"
	"delivery-backend/internal/handlers"
	"delivery-backend/internal/middleware"
)

type Handlers struct {
	Auth       *handlers.AuthHandler
	Requests   *handlers.RequestHandler
	Deliveries *handlers.DeliveryHandler
	Admin      *handlers.AdminHandler
	Events     *handlers.EventsHandler
	Health     *handlers.HealthHandler
}

func NewRouter(h Handlers, authMiddleware *middleware.AuthMiddleware) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Metrics)

	// Public API routes - Authentication
	r.HandleFunc("/auth/login", h.Auth.Login).Methods("POST")

	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware.Authenticate)
	api.HandleFunc("/me", h.Auth.Me).Methods("GET")

	// Delivery requests and their processing claims
	api.HandleFunc("/requests", h.Requests.List).Methods("GET")
	api.HandleFunc("/requests", h.Requests.Create).Methods("POST")
	api.HandleFunc("/requests/{id:[0-9]+}", h.Requests.Get).Methods("GET")
	api.HandleFunc("/requests/{id:[0-9]+}", h.Requests.Delete).Methods("DELETE")
	api.HandleFunc("/requests/{id:[0-9]+}/status", h.Requests.UpdateStatus).Methods("PUT")
	api.HandleFunc("/requests/{id:[0-9]+}/processing", h.Requests.ProcessingStatus).Methods("GET")
	api.HandleFunc("/requests/{id:[0-9]+}/processing", h.Requests.Claim).Methods("POST")
	api.HandleFunc("/requests/{id:[0-9]+}/processing", h.Requests.Release).Methods("DELETE")

	// Deliveries
	api.HandleFunc("/deliveries", h.Deliveries.List).Methods("GET")
	api.HandleFunc("/deliveries", h.Deliveries.Create).Methods("POST")
	api.HandleFunc("/deliveries/tracking/{tracking_number}", h.Deliveries.GetByTracking).Methods("GET")
	api.HandleFunc("/deliveries/{id:[0-9]+}", h.Deliveries.Get).Methods("GET")
	api.HandleFunc("/deliveries/{id:[0-9]+}", h.Deliveries.Update).Methods("PUT")
	api.HandleFunc("/deliveries/{id:[0-9]+}/status", h.Deliveries.UpdateStatus).Methods("PUT")
	api.HandleFunc("/deliveries/{id:[0-9]+}/confirm", h.Deliveries.ConfirmReceipt).Methods("POST")
	api.HandleFunc("/deliveries/{id:[0-9]+}/archive", h.Deliveries.Archive).Methods("POST")
	api.HandleFunc("/deliveries/{id:[0-9]+}/waybill", h.Deliveries.Waybill).Methods("GET")

	// Admin maintenance
	api.HandleFunc("/admin/archive/clear", h.Admin.ClearArchive).Methods("POST")
	api.HandleFunc("/admin/reconcile", h.Admin.Reconcile).Methods("POST")

	// Live lifecycle events
	ws := r.PathPrefix("/ws").Subrouter()
	ws.Use(authMiddleware.Authenticate)
	ws.HandleFunc("", h.Events.Subscribe).Methods("GET")

	// Health endpoints (no auth required - for Kubernetes probes)
	r.HandleFunc("/health", h.Health.BasicHealth).Methods("GET")
	r.HandleFunc("/health/ready", h.Health.ReadinessHealth).Methods("GET")
	r.HandleFunc("/health/detailed", h.Health.DetailedHealth).Methods("GET")

	// Metrics endpoint (Prometheus format)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Wrap applies the middleware that must run whether or not a route matched:
// CORS preflights, request ids, access logs and panic recovery.
func Wrap(cfg *config.Config, log logrus.FieldLogger, router http.Handler) http.Handler {
	var h http.Handler = router
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)
	h = middleware.PanicRecovery(log)(h)
	h = middleware.Logging(log)(h)
	h = middleware.RequestID(h)
	h = middleware.NewCORS(cfg)(h)
	return h
}
