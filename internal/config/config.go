// Package config содержит логику чтения конфигурации сервиса синхронизации.
package config

import (
	"errors"
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// FieldIDs хранит соответствие логических пользовательских полей CRM их числовым
// идентификаторам. Идентификаторы у каждого мерчанта свои, поэтому карта
// конфигурируется при старте, а не зашивается в логику.
type FieldIDs struct {
	ProductsOrdered int `env:"CRM_FIELD_PRODUCTS_ORDERED" envDefault:"7"`
	OrderSummary    int `env:"CRM_FIELD_ORDER_SUMMARY" envDefault:"9"`
	OrderTotal      int `env:"CRM_FIELD_ORDER_TOTAL" envDefault:"11"`
	ShippingAddress int `env:"CRM_FIELD_SHIPPING_ADDRESS" envDefault:"13"`
	PaymentID       int `env:"CRM_FIELD_PAYMENT_ID" envDefault:"15"`
	OrderDate       int `env:"CRM_FIELD_ORDER_DATE" envDefault:"17"`
	HasPreOrder     int `env:"CRM_FIELD_HAS_PREORDER" envDefault:"19"`
	OrderHistory    int `env:"CRM_FIELD_ORDER_HISTORY" envDefault:"21"`
	TotalSpent      int `env:"CRM_FIELD_TOTAL_SPENT" envDefault:"23"`
	CardsTracking   int `env:"CRM_FIELD_CARDS_TRACKING" envDefault:"25"`
	CardsShipDate   int `env:"CRM_FIELD_CARDS_SHIP_DATE" envDefault:"27"`
	BookTracking    int `env:"CRM_FIELD_BOOK_TRACKING" envDefault:"29"`
	BookShipDate    int `env:"CRM_FIELD_BOOK_SHIP_DATE" envDefault:"31"`
}

// Config содержит параметры конфигурации сервиса синхронизации.
type Config struct {
	RunAddress      string `env:"RUN_ADDRESS"`
	PaymentsBaseURL string `env:"PAYMENTS_BASE_URL"`
	PaymentsAPIKey  string `env:"PAYMENTS_API_KEY"`
	CRMBaseURL      string `env:"CRM_BASE_URL"`
	CRMAccessToken  string `env:"CRM_ACCESS_TOKEN"`
	AdminAPIKey     string `env:"ADMIN_API_KEY"`

	Fields FieldIDs
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envPaymentsBaseURL := cfg.PaymentsBaseURL
	envCRMBaseURL := cfg.CRMBaseURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.PaymentsBaseURL, "p", "", "payments provider API base URL")
	flag.StringVar(&cfg.CRMBaseURL, "c", "", "CRM provider API base URL")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envPaymentsBaseURL != "" {
		cfg.PaymentsBaseURL = envPaymentsBaseURL
	}
	if envCRMBaseURL != "" {
		cfg.CRMBaseURL = envCRMBaseURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}

// Validate проверяет наличие учётных данных провайдеров.
// Без них обработчики не должны даже начинать внешние вызовы.
func (c *Config) Validate() error {
	if c.PaymentsAPIKey == "" {
		return errors.New("payments API key is not configured")
	}
	if c.CRMAccessToken == "" {
		return errors.New("CRM access token is not configured")
	}
	return nil
}
