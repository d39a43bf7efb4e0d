package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/decksync-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса синхронизации.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.CORS)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Post("/api/webhook/checkout", h.CheckoutWebhook)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.adminAuth.Middleware)

		r.Post("/backfill", h.Backfill)
		r.Post("/sync-order", h.SyncOrder)
		r.Post("/update-tracking", h.UpdateTracking)

		r.Get("/check-fulfillment", h.CheckFulfillment)
		r.Get("/orders", h.GetOrders)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
