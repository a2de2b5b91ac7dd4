package handler

import (
	"net/http"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"minicrm/internal/metrics"
	"minicrm/internal/middleware"
)

// Handlers groups the API's handlers
type Handlers struct {
	Customers *CustomerHandler
	Segments  *SegmentHandler
	Campaigns *CampaignHandler
	Receipts  *ReceiptHandler
	Health    *HealthHandler
}

// NewRouter wires every API route behind recovery, metrics and CORS middleware
func NewRouter(h Handlers, allowedOrigins []string, logger *zap.Logger) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.Recovery(logger))
	router.Use(metrics.Middleware)

	if h.Health != nil {
		router.HandleFunc("/health", h.Health.HandleHealth).Methods(http.MethodGet)
	}
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/customers", h.Customers.Create).Methods(http.MethodPost)
	api.HandleFunc("/customers", h.Customers.List).Methods(http.MethodGet)
	api.HandleFunc("/customers/{id}", h.Customers.GetByID).Methods(http.MethodGet)
	api.HandleFunc("/customers/{id}/orders", h.Customers.ListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders", h.Customers.CreateOrder).Methods(http.MethodPost)

	api.HandleFunc("/segments", h.Segments.Create).Methods(http.MethodPost)
	api.HandleFunc("/segments", h.Segments.List).Methods(http.MethodGet)
	api.HandleFunc("/segments/preview", h.Segments.Preview).Methods(http.MethodPost)
	api.HandleFunc("/segments/{id}", h.Segments.GetByID).Methods(http.MethodGet)

	// registered before /campaigns/{id} so the literal path wins
	api.HandleFunc("/campaigns/delivery-receipt", h.Receipts.Submit).Methods(http.MethodPost)
	api.HandleFunc("/delivery-receipt", h.Receipts.Submit).Methods(http.MethodPost)

	api.HandleFunc("/campaigns", h.Campaigns.Create).Methods(http.MethodPost)
	api.HandleFunc("/campaigns", h.Campaigns.List).Methods(http.MethodGet)
	api.HandleFunc("/campaigns/{id}", h.Campaigns.GetByID).Methods(http.MethodGet)
	api.HandleFunc("/campaigns/{id}/logs", h.Campaigns.Logs).Methods(http.MethodGet)

	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})(router)
}
