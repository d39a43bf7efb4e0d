// Package fulfillment читает статус отгрузок из контакта CRM и записывает
// трек-номера по отправкам.
package fulfillment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/decksync-system/internal/catalog"
	"github.com/mmeshcher/decksync-system/internal/config"
	"github.com/mmeshcher/decksync-system/internal/crm"
	"github.com/mmeshcher/decksync-system/internal/model"
)

// CRM определяет контракт клиента CRM, используемый чтением и записью отгрузок.
type CRM interface {
	FindContactByEmail(ctx context.Context, email string) (*crm.Contact, error)
	UpdateContact(ctx context.Context, contactID int64, payload crm.ContactUpsert) error
	GetOrCreateTag(ctx context.Context, name string) (int64, error)
	ApplyTag(ctx context.Context, contactID, tagID int64) error
	RemoveTag(ctx context.Context, contactID, tagID int64) error
	FindTag(ctx context.Context, name string) (int64, error)
}

// Tracker обслуживает статусы выполнения заказов и обновления трек-номеров.
type Tracker struct {
	crm    CRM
	fields config.FieldIDs
	logger *zap.Logger
	now    func() time.Time
}

// NewTracker создаёт сервис отгрузок.
func NewTracker(crmClient CRM, fields config.FieldIDs, logger *zap.Logger) *Tracker {
	return &Tracker{
		crm:    crmClient,
		fields: fields,
		logger: logger,
		now:    time.Now,
	}
}

// Status возвращает статус отгрузок по email. Отправка считается выполненной,
// когда её поле трек-номера непусто; агрегированный статус нигде не хранится.
func (t *Tracker) Status(ctx context.Context, email string) (*model.FulfillmentStatus, error) {
	contact, err := t.crm.FindContactByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("lookup contact: %w", err)
	}
	if contact == nil {
		return &model.FulfillmentStatus{Found: false}, nil
	}

	cardsTracking := contact.CustomFieldValue(t.fields.CardsTracking)
	bookTracking := contact.CustomFieldValue(t.fields.BookTracking)

	return &model.FulfillmentStatus{
		Found:         true,
		ContactID:     contact.ID,
		CardsShipped:  cardsTracking != "",
		BookShipped:   bookTracking != "",
		CardsTracking: cardsTracking,
		BookTracking:  bookTracking,
		HasPreOrder:   contact.CustomFieldValue(t.fields.HasPreOrder) == "Yes",
	}, nil
}

// UpdateTracking записывает трек-номер и дату отгрузки по указанной отправке,
// затем навешивает тег отгрузки и снимает тег ожидания. Обе операции с тегами
// независимы и выполняются по возможности: их сбой не проваливает обновление,
// поля отгрузки к этому моменту уже записаны.
func (t *Tracker) UpdateTracking(ctx context.Context, email, trackingNumber string, leg model.ShipmentLeg) (int64, error) {
	contact, err := t.crm.FindContactByEmail(ctx, email)
	if err != nil {
		return 0, fmt.Errorf("lookup contact: %w", err)
	}
	if contact == nil {
		return 0, model.ErrContactNotFound
	}

	trackingField, dateField, shippedTag, awaitingTag := t.legFields(leg)

	payload := crm.ContactUpsert{
		CustomFields: []crm.CustomField{
			{ID: trackingField, Content: trackingNumber},
			{ID: dateField, Content: catalog.ShortDate(t.now().UTC())},
		},
	}
	if err := t.crm.UpdateContact(ctx, contact.ID, payload); err != nil {
		return 0, fmt.Errorf("write tracking fields: %w", err)
	}

	t.swapTags(ctx, contact.ID, shippedTag, awaitingTag)

	return contact.ID, nil
}

func (t *Tracker) legFields(leg model.ShipmentLeg) (trackingField, dateField int, shippedTag, awaitingTag string) {
	if leg == model.ShipmentLegSecondary {
		return t.fields.BookTracking, t.fields.BookShipDate,
			catalog.TagBookShipped, catalog.TagAwaitingBookShipment
	}
	return t.fields.CardsTracking, t.fields.CardsShipDate,
		catalog.TagCardsShipped, catalog.TagAwaitingShipment
}

// swapTags навешивает тег отгрузки и снимает тег ожидания. Тег ожидания
// ищется без создания: если его никогда не было, снимать нечего.
func (t *Tracker) swapTags(ctx context.Context, contactID int64, shippedTag, awaitingTag string) {
	if tagID, err := t.crm.GetOrCreateTag(ctx, shippedTag); err != nil {
		t.logger.Warn("get or create shipped tag failed",
			zap.String("tag", shippedTag), zap.Int64("contactID", contactID), zap.Error(err))
	} else if err := t.crm.ApplyTag(ctx, contactID, tagID); err != nil {
		t.logger.Warn("apply shipped tag failed",
			zap.String("tag", shippedTag), zap.Int64("contactID", contactID), zap.Error(err))
	}

	tagID, err := t.crm.FindTag(ctx, awaitingTag)
	if err != nil {
		t.logger.Warn("find awaiting tag failed",
			zap.String("tag", awaitingTag), zap.Int64("contactID", contactID), zap.Error(err))
		return
	}
	if tagID == 0 {
		return
	}
	if err := t.crm.RemoveTag(ctx, contactID, tagID); err != nil {
		t.logger.Warn("remove awaiting tag failed",
			zap.String("tag", awaitingTag), zap.Int64("contactID", contactID), zap.Error(err))
	}
}
