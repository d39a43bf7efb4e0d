// Package crmsync реализует синхронизацию заказов с контактами CRM:
// слияние накопительных полей, вычисление набора тегов и сверку пропусков.
package crmsync

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mmeshcher/decksync-system/internal/catalog"
	"github.com/mmeshcher/decksync-system/internal/config"
	"github.com/mmeshcher/decksync-system/internal/crm"
	"github.com/mmeshcher/decksync-system/internal/model"
)

// CRM определяет контракт клиента CRM, используемый движком синхронизации.
type CRM interface {
	FindContactByEmail(ctx context.Context, email string) (*crm.Contact, error)
	CreateContact(ctx context.Context, payload crm.ContactUpsert) (*crm.Contact, error)
	UpdateContact(ctx context.Context, contactID int64, payload crm.ContactUpsert) error
	GetOrCreateTag(ctx context.Context, name string) (int64, error)
	ApplyTag(ctx context.Context, contactID, tagID int64) error
}

// tagPacing задаёт темп навешивания тегов, чтобы не упираться в лимиты CRM.
// Оригинальная интеграция спала фиксированные 100мс между вызовами.
const tagPacing = 100 * time.Millisecond

// optInReason записывается при создании контакта, давшего согласие на рассылку.
const optInReason = "Customer opted in at checkout"

// Engine записывает заказы в контакты CRM.
type Engine struct {
	crm     CRM
	fields  config.FieldIDs
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewEngine создаёт движок синхронизации с темпом тегов по умолчанию.
func NewEngine(crmClient CRM, fields config.FieldIDs, logger *zap.Logger) *Engine {
	return &Engine{
		crm:     crmClient,
		fields:  fields,
		limiter: rate.NewLimiter(rate.Every(tagPacing), 1),
		logger:  logger,
	}
}

// Sync создаёт или обновляет контакт CRM по записи заказа и возвращает
// идентификатор контакта. История заказов и суммарные траты накапливаются;
// ошибки навешивания отдельных тегов логируются и не проваливают синхронизацию,
// так как заказ считается записанным после успешной записи контакта.
func (e *Engine) Sync(ctx context.Context, order *model.OrderRecord) (int64, error) {
	contact, err := e.crm.FindContactByEmail(ctx, order.Email)
	if err != nil {
		return 0, fmt.Errorf("lookup contact: %w", err)
	}

	existingHistory := contact.CustomFieldValue(e.fields.OrderHistory)
	existingSpentCents := parseDollarsToCents(contact.CustomFieldValue(e.fields.TotalSpent))

	history := historyEntry(order)
	if existingHistory != "" {
		history += catalog.HistorySeparator + existingHistory
	}
	totalSpentCents := existingSpentCents + order.AmountCents

	customFields := e.buildCustomFields(order, history, totalSpentCents)

	var contactID int64
	if contact == nil {
		created, err := e.crm.CreateContact(ctx, createPayload(order, customFields))
		if err != nil {
			return 0, fmt.Errorf("create contact: %w", err)
		}
		contactID = created.ID
	} else {
		contactID = contact.ID
		if err := e.crm.UpdateContact(ctx, contactID, updatePayload(order, customFields)); err != nil {
			return 0, fmt.Errorf("update contact: %w", err)
		}
	}

	e.applyTags(ctx, contactID, tagSet(order, contact != nil))

	return contactID, nil
}

// HasOrderData сообщает, есть ли у контакта данные хотя бы одного заказа.
// Это единственный механизм защиты сверки от повторной записи: контакт с любым
// заполненным payment id пропускается целиком, без различения по заказам.
func (e *Engine) HasOrderData(contact *crm.Contact) bool {
	return contact.CustomFieldValue(e.fields.PaymentID) != ""
}

// historyEntry форматирует запись истории по одному заказу.
func historyEntry(order *model.OrderRecord) string {
	items := make([]string, 0, len(order.CartItems))
	for _, item := range order.CartItems {
		items = append(items, fmt.Sprintf("%dx %s", item.Quantity, item.ProductName))
	}
	itemsText := strings.Join(items, ", ")
	if itemsText == "" {
		itemsText = "no items"
	}
	return fmt.Sprintf("%s: %s ($%s)", catalog.ShortDate(order.Created), itemsText, order.AmountPaid())
}

func (e *Engine) buildCustomFields(order *model.OrderRecord, history string, totalSpentCents int64) []crm.CustomField {
	productIDs := make([]string, 0, len(order.CartItems))
	summary := make([]string, 0, len(order.CartItems))
	var itemsTotal float64
	for _, item := range order.CartItems {
		productIDs = append(productIDs, item.ProductID)
		summary = append(summary, fmt.Sprintf("%dx %s ($%.2f)", item.Quantity, item.ProductName, item.ProductPrice))
		itemsTotal += item.ProductPrice * float64(item.Quantity)
	}

	address := catalog.AddressNotProvided
	if order.ShippingAddress != nil {
		address = order.ShippingAddress.Format()
	}

	preorder := "No"
	if order.HasPreOrder {
		preorder = "Yes"
	}

	return []crm.CustomField{
		{ID: e.fields.ProductsOrdered, Content: strings.Join(productIDs, ",")},
		{ID: e.fields.OrderSummary, Content: strings.Join(summary, "\n")},
		{ID: e.fields.OrderTotal, Content: fmt.Sprintf("%.2f", itemsTotal)},
		{ID: e.fields.ShippingAddress, Content: address},
		{ID: e.fields.PaymentID, Content: order.PaymentID},
		{ID: e.fields.OrderDate, Content: catalog.ShortDate(order.Created)},
		{ID: e.fields.HasPreOrder, Content: preorder},
		{ID: e.fields.OrderHistory, Content: history},
		{ID: e.fields.TotalSpent, Content: model.FormatCents(totalSpentCents)},
	}
}

// createPayload собирает данные нового контакта. Блок адреса не отправляется
// вовсе при его отсутствии, opt_in_reason — только при согласии на рассылку.
func createPayload(order *model.OrderRecord, customFields []crm.CustomField) crm.ContactUpsert {
	payload := crm.ContactUpsert{
		GivenName:  order.FirstName,
		FamilyName: order.LastName,
		EmailAddresses: []crm.EmailAddress{
			{Email: order.Email, Field: "EMAIL1"},
		},
		CustomFields: customFields,
	}
	if order.ShippingAddress != nil {
		payload.Addresses = []crm.ContactAddress{shippingSlot(order.ShippingAddress)}
	}
	if order.EmailConsent {
		payload.OptInReason = optInReason
	}
	return payload
}

// updatePayload собирает данные обновления. Незаполненные поля опускаются,
// чтобы не затирать уже записанные значения контакта.
func updatePayload(order *model.OrderRecord, customFields []crm.CustomField) crm.ContactUpsert {
	payload := crm.ContactUpsert{
		GivenName:    order.FirstName,
		FamilyName:   order.LastName,
		CustomFields: customFields,
	}
	if order.ShippingAddress != nil {
		payload.Addresses = []crm.ContactAddress{shippingSlot(order.ShippingAddress)}
	}
	return payload
}

func shippingSlot(a *model.Address) crm.ContactAddress {
	return crm.ContactAddress{
		Field:       "SHIPPING",
		Line1:       a.Line1,
		Line2:       a.Line2,
		Locality:    a.City,
		Region:      a.State,
		ZipCode:     a.PostalCode,
		CountryCode: a.Country,
	}
}

// tagSet вычисляет полный набор тегов заказа.
func tagSet(order *model.OrderRecord, contactExisted bool) []string {
	tags := []string{
		catalog.TagOrderReceived,
		catalog.TagFirstEdition,
		catalog.TagAwaitingShipment,
	}

	seen := make(map[string]bool)
	for _, item := range order.CartItems {
		tag, ok := catalog.ProductTag(item.ProductID)
		if !ok || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	if order.HasPreOrder {
		tags = append(tags, catalog.TagBookPreOrder, catalog.TagAwaitingBookShipment)
	}
	if contactExisted {
		tags = append(tags, catalog.TagRepeatCustomer)
	}

	return append(tags, catalog.MonthTag(order.Created))
}

// applyTags навешивает теги последовательно, дозируя вызовы лимитером.
// Неудача по одному тегу не отменяет остальные.
func (e *Engine) applyTags(ctx context.Context, contactID int64, tags []string) {
	for _, name := range tags {
		if err := e.limiter.Wait(ctx); err != nil {
			e.logger.Warn("tag pacing interrupted", zap.Error(err))
			return
		}

		tagID, err := e.crm.GetOrCreateTag(ctx, name)
		if err != nil {
			e.logger.Warn("get or create tag failed",
				zap.String("tag", name), zap.Int64("contactID", contactID), zap.Error(err))
			continue
		}

		if err := e.crm.ApplyTag(ctx, contactID, tagID); err != nil {
			e.logger.Warn("apply tag failed",
				zap.String("tag", name), zap.Int64("contactID", contactID), zap.Error(err))
		}
	}
}

// parseDollarsToCents разбирает строковое значение суммы из CRM.
// Нечисловое содержимое трактуется как ноль.
func parseDollarsToCents(s string) int64 {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(v * 100))
}
