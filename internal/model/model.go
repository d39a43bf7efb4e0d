// Package model содержит доменные сущности сервиса синхронизации заказов с CRM.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoEmail возвращается, если в платёжной сессии нет email покупателя.
var ErrNoEmail = errors.New("session has no customer email")

// ErrContactNotFound возвращается, если контакт с указанным email отсутствует в CRM.
var ErrContactNotFound = errors.New("contact not found")

// CartItem описывает одну позицию корзины заказа.
type CartItem struct {
	ProductID    string  `json:"productId"`
	ProductName  string  `json:"productName"`
	ProductPrice float64 `json:"productPrice"`
	Quantity     int     `json:"quantity"`
}

// Address описывает почтовый адрес доставки.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Format возвращает многострочное текстовое представление адреса.
func (a *Address) Format() string {
	if a == nil {
		return ""
	}

	lines := make([]string, 0, 4)
	if a.Line1 != "" {
		lines = append(lines, a.Line1)
	}
	if a.Line2 != "" {
		lines = append(lines, a.Line2)
	}

	cityLine := strings.TrimSpace(a.City)
	if a.State != "" {
		if cityLine != "" {
			cityLine += ", "
		}
		cityLine += a.State
	}
	if a.PostalCode != "" {
		if cityLine != "" {
			cityLine += " "
		}
		cityLine += a.PostalCode
	}
	if cityLine != "" {
		lines = append(lines, cityLine)
	}
	if a.Country != "" {
		lines = append(lines, a.Country)
	}

	return strings.Join(lines, "\n")
}

// OrderRecord представляет нормализованный заказ, готовый к синхронизации с CRM.
// Сумма хранится в центах и переводится в доллары только на границах.
type OrderRecord struct {
	SessionID       string
	PaymentID       string
	Email           string
	FirstName       string
	LastName        string
	ShippingAddress *Address
	CartItems       []CartItem
	HasPreOrder     bool
	AmountCents     int64
	Created         time.Time
	EmailConsent    bool
}

// AmountPaid возвращает сумму заказа в долларах с точностью до цента.
func (o *OrderRecord) AmountPaid() string {
	return FormatCents(o.AmountCents)
}

// FormatCents переводит сумму в центах в строку долларов с двумя знаками после точки.
func FormatCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// ShipmentLeg обозначает одну из двух независимых отправок заказа.
type ShipmentLeg string

const (
	// ShipmentLegPrimary — основная отправка: колода карт.
	ShipmentLegPrimary ShipmentLeg = "cards"
	// ShipmentLegSecondary — отправка предзаказанной книги из бандла.
	ShipmentLegSecondary ShipmentLeg = "book"
)

// ParseShipmentLeg проверяет и нормализует тип отправки из запроса.
func ParseShipmentLeg(s string) (ShipmentLeg, bool) {
	switch ShipmentLeg(strings.ToLower(strings.TrimSpace(s))) {
	case ShipmentLegPrimary:
		return ShipmentLegPrimary, true
	case ShipmentLegSecondary:
		return ShipmentLegSecondary, true
	default:
		return "", false
	}
}

// FulfillmentState описывает агрегированный статус выполнения заказа.
type FulfillmentState string

const (
	FulfillmentPending   FulfillmentState = "pending"
	FulfillmentPartial   FulfillmentState = "partial"
	FulfillmentFulfilled FulfillmentState = "fulfilled"
	FulfillmentUnknown   FulfillmentState = "unknown"
)

// FulfillmentStatus содержит данные об отгрузках по контакту CRM.
type FulfillmentStatus struct {
	Found         bool   `json:"found"`
	ContactID     int64  `json:"contactId,omitempty"`
	CardsShipped  bool   `json:"cardsShipped"`
	BookShipped   bool   `json:"bookShipped"`
	CardsTracking string `json:"cardsTracking,omitempty"`
	BookTracking  string `json:"bookTracking,omitempty"`
	HasPreOrder   bool   `json:"hasPreOrder"`
}

// State выводит статус выполнения из заполненности трек-номеров.
// Статус нигде не хранится, а вычисляется при каждом чтении.
func (f FulfillmentStatus) State() FulfillmentState {
	if !f.Found {
		return FulfillmentUnknown
	}
	switch {
	case !f.CardsShipped:
		return FulfillmentPending
	case f.HasPreOrder && !f.BookShipped:
		return FulfillmentPartial
	default:
		return FulfillmentFulfilled
	}
}

// BackfillOutcome описывает результат обработки одной платёжной сессии при сверке.
type BackfillOutcome struct {
	SessionID string `json:"sessionId"`
	Email     string `json:"email,omitempty"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Статусы сессий в отчёте сверки.
const (
	BackfillStatusSynced        = "synced"
	BackfillStatusWouldSync     = "would_sync"
	BackfillStatusNoEmail       = "skipped_no_email"
	BackfillStatusAlreadySynced = "skipped_already_synced"
	BackfillStatusError         = "error"
)

// BackfillReport агрегирует итоги сверки исторических сессий.
// Synced считает только реальные записи в CRM; в режиме прогона
// кандидаты попадают в WouldSync, и счётчик записей остаётся нулевым.
type BackfillReport struct {
	DryRun    bool              `json:"dryRun"`
	Processed int               `json:"processed"`
	Synced    int               `json:"synced"`
	WouldSync int               `json:"wouldSync,omitempty"`
	Skipped   int               `json:"skipped"`
	Details   []BackfillOutcome `json:"details"`
	Errors    []BackfillOutcome `json:"errors"`
}

// OrderListing объединяет заказ из платёжной системы со статусом выполнения из CRM.
type OrderListing struct {
	SessionID   string           `json:"sessionId"`
	PaymentID   string           `json:"paymentId"`
	Email       string           `json:"email"`
	Name        string           `json:"name"`
	AmountPaid  string           `json:"amountPaid"`
	Created     time.Time        `json:"created"`
	HasPreOrder bool             `json:"hasPreOrder"`
	Fulfillment FulfillmentState `json:"fulfillment"`
}
