// Package catalog описывает каталог продуктов мерчанта и словарь тегов CRM.
// Сервис обслуживает один дроп, поэтому каталог фиксированный.
package catalog

import "time"

// Идентификаторы продуктов дропа.
const (
	ProductCardsOnly = "cards-only"
	ProductBundle    = "cards-book-bundle"
)

// Базовые теги, навешиваемые на каждый заказ.
const (
	TagOrderReceived    = "Order Received"
	TagFirstEdition     = "1st Edition"
	TagAwaitingShipment = "Awaiting Shipment"
)

// Теги предзаказа книги из бандла.
const (
	TagBookPreOrder         = "Book Pre-Order"
	TagAwaitingBookShipment = "Awaiting Book Shipment"
)

// TagRepeatCustomer навешивается на контакт, существовавший в CRM до заказа.
const TagRepeatCustomer = "Repeat Customer"

// Теги отгрузки по каждой отправке.
const (
	TagCardsShipped = "Cards Shipped"
	TagBookShipped  = "Book Shipped"
)

// productTags сопоставляет идентификатору продукта его тег.
// Неизвестные идентификаторы тега не получают.
var productTags = map[string]string{
	ProductCardsOnly: "Cards Only",
	ProductBundle:    "Cards + Book Bundle",
}

// ProductTag возвращает тег продукта по его идентификатору.
func ProductTag(productID string) (string, bool) {
	tag, ok := productTags[productID]
	return tag, ok
}

// MonthTag возвращает тег месяца заказа, например "January 2026".
func MonthTag(orderDate time.Time) string {
	return orderDate.Format("January 2006")
}

// ShortDate форматирует дату для записей истории и дат отгрузки.
func ShortDate(t time.Time) string {
	return t.Format("Jan 2, 2006")
}

// AddressNotProvided записывается в поле адреса, когда доставка не оформлялась.
const AddressNotProvided = "Not provided"

// HistorySeparator разделяет записи истории заказов, новые записи впереди.
const HistorySeparator = " | "
