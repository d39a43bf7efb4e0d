// Package handler содержит HTTP-обработчики API сервиса синхронизации.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/decksync-system/internal/crm"
	"github.com/mmeshcher/decksync-system/internal/middleware"
	"github.com/mmeshcher/decksync-system/internal/model"
	"github.com/mmeshcher/decksync-system/internal/payments"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Backfill(ctx context.Context, dryRun *bool, limit int) (*model.BackfillReport, error)
	SyncSession(ctx context.Context, sessionID string) (int64, error)
	SyncCompletedSession(ctx context.Context, session *payments.Session) (int64, error)
	FulfillmentStatus(ctx context.Context, email string) (*model.FulfillmentStatus, error)
	UpdateTracking(ctx context.Context, email, trackingNumber string, leg model.ShipmentLeg) (int64, error)
	ListOrders(ctx context.Context, limit int) ([]model.OrderListing, error)
}

// Handler реализует HTTP-обработчики API сервиса синхронизации.
type Handler struct {
	service   Service
	logger    *zap.Logger
	adminAuth *middleware.AdminAuth
	configErr error
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// configErr фиксирует ошибку конфигурации провайдеров: с ней обработчики
// отвечают 500, не начиная внешних вызовов.
func NewHandler(s Service, logger *zap.Logger, adminAuth *middleware.AdminAuth, configErr error) *Handler {
	return &Handler{
		service:   s,
		logger:    logger,
		adminAuth: adminAuth,
		configErr: configErr,
	}
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h.configErr != nil {
		h.logger.Error("request rejected: configuration error", zap.Error(h.configErr))
		http.Error(w, "service is not configured", http.StatusInternalServerError)
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

type backfillRequest struct {
	DryRun *bool `json:"dryRun"`
	Limit  int   `json:"limit"`
}

// Backfill запускает сверку исторических платёжных сессий.
// Пустое тело допустимо: действует безопасный режим dry-run.
func (h *Handler) Backfill(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	var req backfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	report, err := h.service.Backfill(r.Context(), req.DryRun, req.Limit)
	if err != nil {
		h.logger.Error("backfill error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

type fulfillmentResponse struct {
	*model.FulfillmentStatus
	Status model.FulfillmentState `json:"status"`
}

// CheckFulfillment возвращает статус отгрузок по email покупателя.
func (h *Handler) CheckFulfillment(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		http.Error(w, "email query parameter is required", http.StatusBadRequest)
		return
	}

	status, err := h.service.FulfillmentStatus(r.Context(), email)
	if err != nil {
		if errors.Is(err, crm.ErrRateLimited) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		h.logger.Error("check fulfillment error", zap.Error(err), zap.String("email", email))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, fulfillmentResponse{
		FulfillmentStatus: status,
		Status:            status.State(),
	})
}

// GetOrders возвращает завершённые заказы со статусами выполнения.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	orders, err := h.service.ListOrders(r.Context(), limit)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, struct {
		Orders []model.OrderListing `json:"orders"`
	}{Orders: orders})
}

type updateTrackingRequest struct {
	Email          string `json:"email"`
	TrackingNumber string `json:"trackingNumber"`
	ShipmentType   string `json:"shipmentType"`
}

// UpdateTracking записывает трек-номер по отправке заказа.
func (h *Handler) UpdateTracking(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	var req updateTrackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.TrackingNumber == "" {
		http.Error(w, "email and trackingNumber are required", http.StatusBadRequest)
		return
	}

	leg, ok := model.ParseShipmentLeg(req.ShipmentType)
	if !ok {
		http.Error(w, "unknown shipmentType", http.StatusBadRequest)
		return
	}

	contactID, err := h.service.UpdateTracking(r.Context(), req.Email, req.TrackingNumber, leg)
	if err != nil {
		if errors.Is(err, model.ErrContactNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("update tracking error", zap.Error(err), zap.String("email", req.Email))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, struct {
		ContactID int64 `json:"contactId"`
	}{ContactID: contactID})
}

type syncOrderRequest struct {
	SessionID string `json:"sessionId"`
}

// SyncOrder синхронизирует одну платёжную сессию по идентификатору.
func (h *Handler) SyncOrder(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	var req syncOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}

	contactID, err := h.service.SyncSession(r.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, model.ErrNoEmail) {
			http.Error(w, "session has no customer email", http.StatusBadRequest)
			return
		}
		h.logger.Error("sync order error", zap.Error(err), zap.String("session", req.SessionID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, struct {
		ContactID int64 `json:"contactId"`
	}{ContactID: contactID})
}

// checkoutEvent — конверт события платёжного провайдера, уже прошедший
// проверку подписи до этого обработчика.
type checkoutEvent struct {
	Type string `json:"type"`
	Data struct {
		Object payments.Session `json:"object"`
	} `json:"data"`
}

const eventCheckoutCompleted = "checkout.session.completed"

type webhookResponse struct {
	Received  bool  `json:"received"`
	ContactID int64 `json:"contactId,omitempty"`
}

// CheckoutWebhook обрабатывает событие завершённого checkout.
// Прочие типы событий подтверждаются без обработки, чтобы провайдер
// не копил очередь повторных доставок.
func (h *Handler) CheckoutWebhook(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	var event checkoutEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if event.Type != eventCheckoutCompleted {
		h.writeJSON(w, http.StatusOK, webhookResponse{Received: true})
		return
	}

	contactID, err := h.service.SyncCompletedSession(r.Context(), &event.Data.Object)
	if err != nil {
		if errors.Is(err, model.ErrNoEmail) {
			// Подтверждаем: повторная доставка события email не добавит.
			h.logger.Warn("checkout session without email", zap.String("session", event.Data.Object.ID))
			h.writeJSON(w, http.StatusOK, webhookResponse{Received: true})
			return
		}
		h.logger.Error("checkout webhook error", zap.Error(err), zap.String("session", event.Data.Object.ID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, webhookResponse{Received: true, ContactID: contactID})
}
