package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/decksync-system/internal/crm"
	"github.com/mmeshcher/decksync-system/internal/middleware"
	"github.com/mmeshcher/decksync-system/internal/model"
	"github.com/mmeshcher/decksync-system/internal/payments"
)

type stubService struct {
	backfillReport *model.BackfillReport
	backfillErr    error
	gotDryRun      *bool
	gotLimit       int

	syncContactID int64
	syncErr       error
	syncedSession *payments.Session

	statusResp *model.FulfillmentStatus
	statusErr  error

	trackingContactID int64
	trackingErr       error
	gotLeg            model.ShipmentLeg

	ordersResp []model.OrderListing
	ordersErr  error
}

func (s *stubService) Backfill(ctx context.Context, dryRun *bool, limit int) (*model.BackfillReport, error) {
	s.gotDryRun = dryRun
	s.gotLimit = limit
	return s.backfillReport, s.backfillErr
}

func (s *stubService) SyncSession(ctx context.Context, sessionID string) (int64, error) {
	return s.syncContactID, s.syncErr
}

func (s *stubService) SyncCompletedSession(ctx context.Context, session *payments.Session) (int64, error) {
	s.syncedSession = session
	return s.syncContactID, s.syncErr
}

func (s *stubService) FulfillmentStatus(ctx context.Context, email string) (*model.FulfillmentStatus, error) {
	return s.statusResp, s.statusErr
}

func (s *stubService) UpdateTracking(ctx context.Context, email, trackingNumber string, leg model.ShipmentLeg) (int64, error) {
	s.gotLeg = leg
	return s.trackingContactID, s.trackingErr
}

func (s *stubService) ListOrders(ctx context.Context, limit int) ([]model.OrderListing, error) {
	return s.ordersResp, s.ordersErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAdminAuth("admin-key")

	return NewHandler(svc, logger, auth, nil)
}

func TestBackfill_EmptyBodyDefaults(t *testing.T) {
	svc := &stubService{backfillReport: &model.BackfillReport{DryRun: true}}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/backfill", nil)
	rec := httptest.NewRecorder()

	h.Backfill(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.gotDryRun != nil {
		t.Fatalf("omitted dryRun must reach the service as nil")
	}
	if svc.gotLimit != 0 {
		t.Fatalf("limit = %d, want 0", svc.gotLimit)
	}
}

func TestBackfill_ExplicitLive(t *testing.T) {
	svc := &stubService{backfillReport: &model.BackfillReport{}}
	h := newTestHandler(t, svc)

	body := strings.NewReader(`{"dryRun":false,"limit":25}`)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/backfill", body)
	rec := httptest.NewRecorder()

	h.Backfill(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.gotDryRun == nil || *svc.gotDryRun {
		t.Fatalf("dryRun = %v, want explicit false", svc.gotDryRun)
	}
	if svc.gotLimit != 25 {
		t.Fatalf("limit = %d, want 25", svc.gotLimit)
	}
}

func TestCheckFulfillment_RequiresEmail(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/check-fulfillment", nil)
	rec := httptest.NewRecorder()

	h.CheckFulfillment(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestCheckFulfillment_RateLimited(t *testing.T) {
	svc := &stubService{statusErr: crm.ErrRateLimited}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/check-fulfillment?email=a@example.com", nil)
	rec := httptest.NewRecorder()

	h.CheckFulfillment(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
}

func TestCheckFulfillment_DerivedStatus(t *testing.T) {
	svc := &stubService{statusResp: &model.FulfillmentStatus{
		Found:        true,
		ContactID:    7,
		CardsShipped: true,
		HasPreOrder:  true,
	}}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/check-fulfillment?email=a@example.com", nil)
	rec := httptest.NewRecorder()

	h.CheckFulfillment(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Found        bool   `json:"found"`
		CardsShipped bool   `json:"cardsShipped"`
		Status       string `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Found || !resp.CardsShipped || resp.Status != "partial" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestUpdateTracking_UnknownLeg(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	body := strings.NewReader(`{"email":"a@example.com","trackingNumber":"TRK1","shipmentType":"freight"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/update-tracking", body)
	rec := httptest.NewRecorder()

	h.UpdateTracking(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestUpdateTracking_NotFound(t *testing.T) {
	svc := &stubService{trackingErr: model.ErrContactNotFound}
	h := newTestHandler(t, svc)

	body := strings.NewReader(`{"email":"missing@example.com","trackingNumber":"TRK1","shipmentType":"cards"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/update-tracking", body)
	rec := httptest.NewRecorder()

	h.UpdateTracking(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestUpdateTracking_Success(t *testing.T) {
	svc := &stubService{trackingContactID: 7}
	h := newTestHandler(t, svc)

	body := strings.NewReader(`{"email":"a@example.com","trackingNumber":"TRK1","shipmentType":"book"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/update-tracking", body)
	rec := httptest.NewRecorder()

	h.UpdateTracking(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.gotLeg != model.ShipmentLegSecondary {
		t.Fatalf("leg = %s, want book", svc.gotLeg)
	}

	var resp struct {
		ContactID int64 `json:"contactId"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ContactID != 7 {
		t.Fatalf("contactId = %d, want 7", resp.ContactID)
	}
}

func TestCheckoutWebhook_IgnoresOtherEvents(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	body := strings.NewReader(`{"type":"payment_intent.created","data":{"object":{"id":"cs_1"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/checkout", body)
	rec := httptest.NewRecorder()

	h.CheckoutWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.syncedSession != nil {
		t.Fatalf("non-completion event must not be synced")
	}
}

func TestCheckoutWebhook_CompletedSession(t *testing.T) {
	svc := &stubService{syncContactID: 12}
	h := newTestHandler(t, svc)

	event := map[string]any{
		"type": "checkout.session.completed",
		"data": map[string]any{
			"object": map[string]any{"id": "cs_1", "payment_intent": "pi_1"},
		},
	}
	raw, _ := json.Marshal(event)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/checkout", bytes.NewReader(raw))
	rec := httptest.NewRecorder()

	h.CheckoutWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.syncedSession == nil || svc.syncedSession.ID != "cs_1" {
		t.Fatalf("session not passed to service: %+v", svc.syncedSession)
	}

	var resp struct {
		Received  bool  `json:"received"`
		ContactID int64 `json:"contactId"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Received || resp.ContactID != 12 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCheckoutWebhook_NoEmailAcknowledged(t *testing.T) {
	svc := &stubService{syncErr: model.ErrNoEmail}
	h := newTestHandler(t, svc)

	body := strings.NewReader(`{"type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/checkout", body)
	rec := httptest.NewRecorder()

	h.CheckoutWebhook(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("session without email must be acknowledged, status = %d", rec.Code)
	}
}

func TestConfigurationErrorBlocksHandlers(t *testing.T) {
	logger := zap.NewNop()
	auth := middleware.NewAdminAuth("admin-key")
	h := NewHandler(&stubService{}, logger, auth, errors.New("payments API key is not configured"))

	req := httptest.NewRequest(http.MethodPost, "/api/admin/backfill", nil)
	rec := httptest.NewRecorder()

	h.Backfill(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestRouter_AdminAuthRequired(t *testing.T) {
	h := newTestHandler(t, &stubService{ordersResp: []model.OrderListing{}})
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without key = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status with wrong key = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer admin-key")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with valid key = %d, want 200", rec.Code)
	}
}

func TestRouter_HealthzOpen(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	router := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
