// Package service реализует бизнес-логику сервиса синхронизации заказов.
package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mmeshcher/decksync-system/internal/crmsync"
	"github.com/mmeshcher/decksync-system/internal/fulfillment"
	"github.com/mmeshcher/decksync-system/internal/model"
	"github.com/mmeshcher/decksync-system/internal/order"
	"github.com/mmeshcher/decksync-system/internal/payments"
)

// Payments описывает контракт платёжного клиента, используемый сервисом.
type Payments interface {
	ListCompletedSessions(ctx context.Context, limit int) ([]payments.Session, error)
	GetSession(ctx context.Context, sessionID string) (*payments.Session, error)
}

// Значения по умолчанию для batch-операций.
const (
	defaultBackfillLimit = 100
	defaultOrdersLimit   = 100
)

// Service связывает платёжный клиент, движок синхронизации и учёт отгрузок.
type Service struct {
	payments   Payments
	engine     *crmsync.Engine
	backfiller *crmsync.Backfiller
	tracker    *fulfillment.Tracker
	logger     *zap.Logger
}

// NewService создаёт сервис с указанными зависимостями.
func NewService(p Payments, engine *crmsync.Engine, backfiller *crmsync.Backfiller, tracker *fulfillment.Tracker, logger *zap.Logger) *Service {
	return &Service{
		payments:   p,
		engine:     engine,
		backfiller: backfiller,
		tracker:    tracker,
		logger:     logger,
	}
}

// Backfill запускает сверку исторических сессий. При отсутствии флага в запросе
// действует безопасный режим dry-run; лимит по умолчанию — defaultBackfillLimit.
func (s *Service) Backfill(ctx context.Context, dryRun *bool, limit int) (*model.BackfillReport, error) {
	dry := true
	if dryRun != nil {
		dry = *dryRun
	}
	if limit <= 0 {
		limit = defaultBackfillLimit
	}
	return s.backfiller.Run(ctx, dry, limit)
}

// SyncSession загружает платёжную сессию по идентификатору и синхронизирует её с CRM.
func (s *Service) SyncSession(ctx context.Context, sessionID string) (int64, error) {
	session, err := s.payments.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return s.SyncCompletedSession(ctx, session)
}

// SyncCompletedSession строит запись заказа из сессии и записывает её в CRM.
func (s *Service) SyncCompletedSession(ctx context.Context, session *payments.Session) (int64, error) {
	record, err := order.Build(session, s.logger)
	if err != nil {
		return 0, err
	}
	return s.engine.Sync(ctx, record)
}

// FulfillmentStatus возвращает статус отгрузок по email покупателя.
func (s *Service) FulfillmentStatus(ctx context.Context, email string) (*model.FulfillmentStatus, error) {
	return s.tracker.Status(ctx, email)
}

// UpdateTracking записывает трек-номер по отправке заказа.
func (s *Service) UpdateTracking(ctx context.Context, email, trackingNumber string, leg model.ShipmentLeg) (int64, error) {
	return s.tracker.UpdateTracking(ctx, email, trackingNumber, leg)
}

// ListOrders возвращает завершённые заказы, дополненные статусом выполнения из
// CRM. Сессия без email попадает в список со статусом unknown: её не с чем
// сопоставить в CRM.
func (s *Service) ListOrders(ctx context.Context, limit int) ([]model.OrderListing, error) {
	if limit <= 0 {
		limit = defaultOrdersLimit
	}

	sessions, err := s.payments.ListCompletedSessions(ctx, limit)
	if err != nil {
		return nil, err
	}

	listings := make([]model.OrderListing, 0, len(sessions))
	for i := range sessions {
		session := &sessions[i]

		record, err := order.Build(session, s.logger)
		if err != nil {
			if errors.Is(err, model.ErrNoEmail) {
				listings = append(listings, model.OrderListing{
					SessionID:   session.ID,
					PaymentID:   session.PaymentIntent,
					AmountPaid:  model.FormatCents(session.AmountTotal),
					Fulfillment: model.FulfillmentUnknown,
				})
				continue
			}
			return nil, err
		}

		status, err := s.tracker.Status(ctx, record.Email)
		if err != nil {
			s.logger.Warn("fulfillment status lookup failed",
				zap.String("email", record.Email), zap.Error(err))
			status = &model.FulfillmentStatus{Found: false}
		}

		name := record.FirstName
		if record.LastName != "" {
			name += " " + record.LastName
		}

		// Статус бандла уточняется по самой сессии: флаг предзаказа в CRM мог
		// быть записан другим заказом того же покупателя.
		status.HasPreOrder = status.HasPreOrder || record.HasPreOrder

		listings = append(listings, model.OrderListing{
			SessionID:   record.SessionID,
			PaymentID:   record.PaymentID,
			Email:       record.Email,
			Name:        name,
			AmountPaid:  record.AmountPaid(),
			Created:     record.Created,
			HasPreOrder: record.HasPreOrder,
			Fulfillment: status.State(),
		})
	}

	return listings, nil
}
