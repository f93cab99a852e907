package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	_ "github.com/dinehq/mesa/docs"
	"github.com/dinehq/mesa/internal/auth"
	"github.com/dinehq/mesa/internal/catalog"
	"github.com/dinehq/mesa/internal/config"
	"github.com/dinehq/mesa/internal/db"
	"github.com/dinehq/mesa/internal/notify"
	"github.com/dinehq/mesa/internal/order"
	"github.com/dinehq/mesa/internal/payment"
)

const shutdownTimeout = 10 * time.Second

// @title        Mesa API
// @version      1.0
// @description  Table ordering and payment reconciliation service.
// @BasePath     /api
func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	cfg := config.Load()

	ctx := context.Background()
	pool, err := db.ConnectAndMigrate(ctx, cfg.PostgresDSN)
	if err != nil {
		logrus.WithError(err).Fatal("database init failed")
	}
	defer pool.Close()

	authn := auth.NewClient(cfg.IdentityBaseURL)
	cat := catalog.NewClient(cfg.CatalogBaseURL)
	proc := payment.NewProcessorClient(cfg.ProcessorBaseURL, cfg.ProcessorKey)
	hub := notify.NewHub()

	orders := order.NewService(order.NewPGRepo(pool), cat, hub)
	payments := payment.NewService(payment.NewPGRepo(pool), proc, hub, cfg.Currency)

	r := setupRouter(orders, payments, hub, authn)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}

	go func() {
		logrus.WithField("addr", cfg.HTTPAddr).Info("dine-service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("server failed")
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	logrus.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("shutdown failed")
	}
}
