package crmsync

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mmeshcher/decksync-system/internal/model"
	"github.com/mmeshcher/decksync-system/internal/order"
	"github.com/mmeshcher/decksync-system/internal/payments"
)

// SessionLister определяет контракт платёжного клиента для сверки.
type SessionLister interface {
	ListCompletedSessions(ctx context.Context, limit int) ([]payments.Session, error)
}

// Backfiller прогоняет исторические завершённые сессии через движок
// синхронизации, восстанавливая пропущенные записи.
type Backfiller struct {
	payments SessionLister
	engine   *Engine
	logger   *zap.Logger
}

// NewBackfiller создаёт драйвер сверки.
func NewBackfiller(lister SessionLister, engine *Engine, logger *zap.Logger) *Backfiller {
	return &Backfiller{
		payments: lister,
		engine:   engine,
		logger:   logger,
	}
}

// Run обрабатывает до limit завершённых сессий строго последовательно.
// Ошибка по одной сессии записывается в отчёт и не прерывает проход.
// В режиме dryRun в CRM не пишется ничего: отчёт лишь перечисляет,
// какие сессии были бы синхронизированы.
func (b *Backfiller) Run(ctx context.Context, dryRun bool, limit int) (*model.BackfillReport, error) {
	sessions, err := b.payments.ListCompletedSessions(ctx, limit)
	if err != nil {
		return nil, err
	}

	report := &model.BackfillReport{
		DryRun:  dryRun,
		Details: []model.BackfillOutcome{},
		Errors:  []model.BackfillOutcome{},
	}

	for i := range sessions {
		session := &sessions[i]
		report.Processed++

		outcome := b.processSession(ctx, session, dryRun)
		switch outcome.Status {
		case model.BackfillStatusError:
			report.Errors = append(report.Errors, outcome)
		case model.BackfillStatusSynced:
			report.Synced++
			report.Details = append(report.Details, outcome)
		case model.BackfillStatusWouldSync:
			report.WouldSync++
			report.Details = append(report.Details, outcome)
		default:
			report.Skipped++
			report.Details = append(report.Details, outcome)
		}
	}

	b.logger.Info("backfill finished",
		zap.Bool("dryRun", dryRun),
		zap.Int("processed", report.Processed),
		zap.Int("synced", report.Synced),
		zap.Int("wouldSync", report.WouldSync),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", len(report.Errors)))

	return report, nil
}

func (b *Backfiller) processSession(ctx context.Context, session *payments.Session, dryRun bool) model.BackfillOutcome {
	record, err := order.Build(session, b.logger)
	if err != nil {
		if errors.Is(err, model.ErrNoEmail) {
			return model.BackfillOutcome{
				SessionID: session.ID,
				Status:    model.BackfillStatusNoEmail,
			}
		}
		return model.BackfillOutcome{
			SessionID: session.ID,
			Status:    model.BackfillStatusError,
			Error:     err.Error(),
		}
	}

	contact, err := b.engine.crm.FindContactByEmail(ctx, record.Email)
	if err != nil {
		return model.BackfillOutcome{
			SessionID: session.ID,
			Email:     record.Email,
			Status:    model.BackfillStatusError,
			Error:     err.Error(),
		}
	}

	// Грубая защита от повторной записи: контакт с любыми данными заказа
	// пропускается целиком, независимо от режима запуска.
	if contact != nil && b.engine.HasOrderData(contact) {
		return model.BackfillOutcome{
			SessionID: session.ID,
			Email:     record.Email,
			Status:    model.BackfillStatusAlreadySynced,
		}
	}

	if dryRun {
		return model.BackfillOutcome{
			SessionID: session.ID,
			Email:     record.Email,
			Status:    model.BackfillStatusWouldSync,
		}
	}

	if _, err := b.engine.Sync(ctx, record); err != nil {
		return model.BackfillOutcome{
			SessionID: session.ID,
			Email:     record.Email,
			Status:    model.BackfillStatusError,
			Error:     err.Error(),
		}
	}

	return model.BackfillOutcome{
		SessionID: session.ID,
		Email:     record.Email,
		Status:    model.BackfillStatusSynced,
	}
}
