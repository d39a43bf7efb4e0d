// Package payments предоставляет клиент для API платёжного провайдера.
package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// APIError описывает неуспешный ответ платёжного API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("payments api status %d: %s", e.StatusCode, e.Body)
}

// SessionAddress описывает почтовый адрес из платёжной сессии.
type SessionAddress struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// ShippingDetails содержит данные доставки платёжной сессии.
type ShippingDetails struct {
	Name    string          `json:"name"`
	Address *SessionAddress `json:"address"`
}

// CollectedInformation — альтернативное место данных доставки в новых сессиях.
type CollectedInformation struct {
	ShippingDetails *ShippingDetails `json:"shipping_details"`
}

// CustomerDetails содержит данные покупателя платёжной сессии.
type CustomerDetails struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Session представляет платёжную сессию hosted checkout.
// Метаданные несут корзину в виде JSON-строки и булевы флаги строками "true"/"false".
type Session struct {
	ID                   string                `json:"id"`
	Status               string                `json:"status"`
	PaymentIntent        string                `json:"payment_intent"`
	AmountTotal          int64                 `json:"amount_total"`
	Created              int64                 `json:"created"`
	CustomerDetails      *CustomerDetails      `json:"customer_details"`
	ShippingDetails      *ShippingDetails      `json:"shipping_details"`
	CollectedInformation *CollectedInformation `json:"collected_information"`
	Metadata             map[string]string     `json:"metadata"`
}

// CustomerEmail возвращает email покупателя либо пустую строку.
func (s *Session) CustomerEmail() string {
	if s.CustomerDetails == nil {
		return ""
	}
	return strings.TrimSpace(s.CustomerDetails.Email)
}

// Shipping возвращает данные доставки, предпочитая прямое поле сессии
// и дополняясь вложенным collected_information у сессий нового формата.
func (s *Session) Shipping() *ShippingDetails {
	if s.ShippingDetails != nil {
		return s.ShippingDetails
	}
	if s.CollectedInformation != nil {
		return s.CollectedInformation.ShippingDetails
	}
	return nil
}

const pageSize = 100

// Client инкапсулирует HTTP-взаимодействие с платёжным провайдером.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient создаёт клиент платёжного API. Временные сбои и 429 повторяются
// прозрачно средствами retryablehttp.
func NewClient(baseURL, apiKey string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: rc.StandardClient(),
	}
}

// ListCompletedSessions возвращает до limit завершённых сессий в порядке,
// отдаваемом провайдером (новые впереди). Пагинация скрыта от вызывающего.
func (c *Client) ListCompletedSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		return nil, nil
	}

	sessions := make([]Session, 0, limit)
	startingAfter := ""

	for len(sessions) < limit {
		page := pageSize
		if remaining := limit - len(sessions); remaining < page {
			page = remaining
		}

		query := url.Values{
			"status": {"complete"},
			"limit":  {strconv.Itoa(page)},
		}
		if startingAfter != "" {
			query.Set("starting_after", startingAfter)
		}

		var result struct {
			Data    []Session `json:"data"`
			HasMore bool      `json:"has_more"`
		}
		if err := c.get(ctx, "/v1/checkout/sessions", query, &result); err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}

		sessions = append(sessions, result.Data...)

		if !result.HasMore || len(result.Data) == 0 {
			break
		}
		startingAfter = result.Data[len(result.Data)-1].ID
	}

	return sessions, nil
}

// GetSession возвращает платёжную сессию по идентификатору.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	path := "/v1/checkout/sessions/" + url.PathEscape(sessionID)
	if err := c.get(ctx, path, nil, &session); err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return &session, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("payments client not configured")
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
