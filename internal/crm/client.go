// Package crm предоставляет клиент для REST API CRM-провайдера.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrRateLimited возвращается, когда CRM отвечает 429 и лимит повторов исчерпан.
var ErrRateLimited = errors.New("crm rate limit exceeded")

// APIError описывает неуспешный ответ CRM API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crm api status %d: %s", e.StatusCode, e.Body)
}

// Параметры повторов при ответе 429. Оригинальная интеграция повторяла запрос
// рекурсивно без ограничения; здесь количество попыток ограничено.
const (
	maxRetries         = 4
	retryBase          = 1 * time.Second
	retryJitterPercent = 25
	clientTimeout      = 10 * time.Second
)

// EmailAddress описывает email контакта в CRM.
type EmailAddress struct {
	Email string `json:"email"`
	Field string `json:"field,omitempty"`
}

// ContactAddress описывает адрес контакта; слот доставки имеет field "SHIPPING".
type ContactAddress struct {
	Field       string `json:"field,omitempty"`
	Line1       string `json:"line1,omitempty"`
	Line2       string `json:"line2,omitempty"`
	Locality    string `json:"locality,omitempty"`
	Region      string `json:"region,omitempty"`
	ZipCode     string `json:"zip_code,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
}

// CustomField содержит значение пользовательского поля контакта.
// CRM не имеет схемы полей: только числовой идентификатор и строка.
type CustomField struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
}

// Contact представляет контакт CRM.
type Contact struct {
	ID             int64            `json:"id"`
	GivenName      string           `json:"given_name"`
	FamilyName     string           `json:"family_name"`
	EmailAddresses []EmailAddress   `json:"email_addresses"`
	Addresses      []ContactAddress `json:"addresses"`
	CustomFields   []CustomField    `json:"custom_fields"`
}

// CustomFieldValue возвращает содержимое пользовательского поля по идентификатору.
func (c *Contact) CustomFieldValue(id int) string {
	if c == nil {
		return ""
	}
	for _, f := range c.CustomFields {
		if f.ID == id {
			return f.Content
		}
	}
	return ""
}

// ContactUpsert содержит данные создания или обновления контакта.
// Пустые поля не сериализуются, чтобы обновление не затирало существующие значения.
type ContactUpsert struct {
	GivenName      string           `json:"given_name,omitempty"`
	FamilyName     string           `json:"family_name,omitempty"`
	EmailAddresses []EmailAddress   `json:"email_addresses,omitempty"`
	Addresses      []ContactAddress `json:"addresses,omitempty"`
	CustomFields   []CustomField    `json:"custom_fields,omitempty"`
	OptInReason    string           `json:"opt_in_reason,omitempty"`
}

// Tag представляет тег CRM. Теги глобальны для аккаунта мерчанта.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Client инкапсулирует HTTP-взаимодействие с CRM-провайдером.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retryBase  time.Duration
	maxRetries uint64
}

// NewClient создаёт клиент CRM API с указанным адресом и токеном доступа.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
		retryBase:  retryBase,
		maxRetries: maxRetries,
	}
}

// FindContactByEmail ищет контакт по email. Возвращает nil без ошибки, если
// контакта нет. При нескольких совпадениях используется первый возвращённый.
func (c *Client) FindContactByEmail(ctx context.Context, email string) (*Contact, error) {
	var result struct {
		Contacts []Contact `json:"contacts"`
	}

	query := url.Values{"email": {email}}
	if err := c.do(ctx, http.MethodGet, "/contacts", query, nil, &result); err != nil {
		return nil, fmt.Errorf("find contact: %w", err)
	}

	if len(result.Contacts) == 0 {
		return nil, nil
	}
	return &result.Contacts[0], nil
}

// CreateContact создаёт новый контакт и возвращает его.
func (c *Client) CreateContact(ctx context.Context, payload ContactUpsert) (*Contact, error) {
	var created Contact
	if err := c.do(ctx, http.MethodPost, "/contacts", nil, payload, &created); err != nil {
		return nil, fmt.Errorf("create contact: %w", err)
	}
	return &created, nil
}

// UpdateContact обновляет контакт. Поля, отсутствующие в payload, не трогаются.
func (c *Client) UpdateContact(ctx context.Context, contactID int64, payload ContactUpsert) error {
	path := fmt.Sprintf("/contacts/%d", contactID)
	if err := c.do(ctx, http.MethodPatch, path, nil, payload, nil); err != nil {
		return fmt.Errorf("update contact %d: %w", contactID, err)
	}
	return nil
}

// GetOrCreateTag возвращает идентификатор тега с указанным именем,
// создавая тег при отсутствии.
func (c *Client) GetOrCreateTag(ctx context.Context, name string) (int64, error) {
	var found struct {
		Tags []Tag `json:"tags"`
	}

	query := url.Values{"name": {name}}
	if err := c.do(ctx, http.MethodGet, "/tags", query, nil, &found); err != nil {
		return 0, fmt.Errorf("find tag %q: %w", name, err)
	}

	for _, t := range found.Tags {
		if strings.EqualFold(t.Name, name) {
			return t.ID, nil
		}
	}

	var created Tag
	payload := Tag{Name: name}
	if err := c.do(ctx, http.MethodPost, "/tags", nil, payload, &created); err != nil {
		return 0, fmt.Errorf("create tag %q: %w", name, err)
	}
	return created.ID, nil
}

// FindTag возвращает идентификатор существующего тега либо 0, если тега нет.
func (c *Client) FindTag(ctx context.Context, name string) (int64, error) {
	var found struct {
		Tags []Tag `json:"tags"`
	}

	query := url.Values{"name": {name}}
	if err := c.do(ctx, http.MethodGet, "/tags", query, nil, &found); err != nil {
		return 0, fmt.Errorf("find tag %q: %w", name, err)
	}

	for _, t := range found.Tags {
		if strings.EqualFold(t.Name, name) {
			return t.ID, nil
		}
	}
	return 0, nil
}

// ApplyTag навешивает тег на контакт.
func (c *Client) ApplyTag(ctx context.Context, contactID, tagID int64) error {
	path := fmt.Sprintf("/contacts/%d/tags", contactID)
	payload := struct {
		TagIDs []int64 `json:"tagIds"`
	}{TagIDs: []int64{tagID}}

	if err := c.do(ctx, http.MethodPost, path, nil, payload, nil); err != nil {
		return fmt.Errorf("apply tag %d to contact %d: %w", tagID, contactID, err)
	}
	return nil
}

// RemoveTag снимает тег с контакта. Отсутствие тега на контакте не считается ошибкой.
func (c *Client) RemoveTag(ctx context.Context, contactID, tagID int64) error {
	path := fmt.Sprintf("/contacts/%d/tags/%d", contactID, tagID)

	err := c.do(ctx, http.MethodDelete, path, nil, nil, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("remove tag %d from contact %d: %w", tagID, contactID, err)
	}
	return nil
}

// do выполняет запрос к CRM API с ограниченным числом повторов при 429.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("crm client not configured")
	}

	backoff := retry.WithMaxRetries(c.maxRetries, retry.WithJitterPercent(retryJitterPercent, retry.NewExponential(c.retryBase)))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		status, err := c.doOnce(ctx, method, path, query, body, out)
		if status == http.StatusTooManyRequests {
			return retry.RetryableError(ErrRateLimited)
		}
		return err
	})
}

func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, body, out any) (int, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return resp.StatusCode, &APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}

	return resp.StatusCode, nil
}
