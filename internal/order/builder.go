// Package order строит нормализованную запись заказа из платёжной сессии.
package order

import (
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/decksync-system/internal/catalog"
	"github.com/mmeshcher/decksync-system/internal/model"
	"github.com/mmeshcher/decksync-system/internal/payments"
)

// Ключи метаданных платёжной сессии. Булевы значения приходят строками "true"/"false".
const (
	metaCartItems    = "cart_items"
	metaHasPreOrder  = "has_preorder"
	metaEmailConsent = "email_consent"
)

// Build превращает платёжную сессию в запись заказа. Возвращает model.ErrNoEmail,
// если у сессии нет email покупателя: такие сессии синхронизировать не во что.
// Битые метаданные корзины не проваливают операцию: корзина остаётся пустой.
func Build(session *payments.Session, logger *zap.Logger) (*model.OrderRecord, error) {
	email := session.CustomerEmail()
	if email == "" {
		return nil, model.ErrNoEmail
	}

	firstName, lastName := splitName(customerName(session))

	record := &model.OrderRecord{
		SessionID:       session.ID,
		PaymentID:       session.PaymentIntent,
		Email:           email,
		FirstName:       firstName,
		LastName:        lastName,
		ShippingAddress: shippingAddress(session),
		CartItems:       cartItems(session, logger),
		AmountCents:     session.AmountTotal,
		Created:         time.Unix(session.Created, 0).UTC(),
		EmailConsent:    session.Metadata[metaEmailConsent] == "true",
	}

	record.HasPreOrder = session.Metadata[metaHasPreOrder] == "true"
	for _, item := range record.CartItems {
		if item.ProductID == catalog.ProductBundle {
			record.HasPreOrder = true
		}
	}

	return record, nil
}

func customerName(session *payments.Session) string {
	if session.CustomerDetails != nil && session.CustomerDetails.Name != "" {
		return session.CustomerDetails.Name
	}
	if shipping := session.Shipping(); shipping != nil {
		return shipping.Name
	}
	return ""
}

// splitName делит полное имя по первому пробелу: первый токен — имя,
// остаток — фамилия. Эвристика теряет составные имена, но сохраняется
// ради совместимости с уже записанными контактами.
func splitName(full string) (string, string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}
	parts := strings.SplitN(full, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.TrimSpace(parts[1])
}

func shippingAddress(session *payments.Session) *model.Address {
	shipping := session.Shipping()
	if shipping == nil || shipping.Address == nil {
		return nil
	}
	a := shipping.Address
	return &model.Address{
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func cartItems(session *payments.Session, logger *zap.Logger) []model.CartItem {
	raw, ok := session.Metadata[metaCartItems]
	if !ok || raw == "" {
		logger.Warn("session has no cart metadata", zap.String("session", session.ID))
		return []model.CartItem{}
	}

	var items []model.CartItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		logger.Warn("malformed cart metadata",
			zap.String("session", session.ID), zap.Error(err))
		return []model.CartItem{}
	}
	if items == nil {
		items = []model.CartItem{}
	}
	return items
}
