// Package main запускает HTTP-сервер сервиса синхронизации заказов с CRM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/decksync-system/internal/config"
	"github.com/mmeshcher/decksync-system/internal/crm"
	"github.com/mmeshcher/decksync-system/internal/crmsync"
	"github.com/mmeshcher/decksync-system/internal/fulfillment"
	"github.com/mmeshcher/decksync-system/internal/handler"
	"github.com/mmeshcher/decksync-system/internal/middleware"
	"github.com/mmeshcher/decksync-system/internal/payments"
	"github.com/mmeshcher/decksync-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	// Отсутствие учётных данных не валит процесс: обработчики отвечают 500,
	// пока конфигурация не исправлена.
	configErr := cfg.Validate()
	if configErr != nil {
		sugar.Errorw("provider credentials missing", "error", configErr.Error())
	}

	paymentsClient := payments.NewClient(cfg.PaymentsBaseURL, cfg.PaymentsAPIKey)
	crmClient := crm.NewClient(cfg.CRMBaseURL, cfg.CRMAccessToken)

	engine := crmsync.NewEngine(crmClient, cfg.Fields, logger)
	backfiller := crmsync.NewBackfiller(paymentsClient, engine, logger)
	tracker := fulfillment.NewTracker(crmClient, cfg.Fields, logger)

	svc := service.NewService(paymentsClient, engine, backfiller, tracker, logger)

	adminAuth := middleware.NewAdminAuth(cfg.AdminAPIKey)
	h := handler.NewHandler(svc, logger, adminAuth, configErr)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting decksync server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
