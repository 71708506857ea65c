package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/example/motiondata/internal/config"
	"github.com/example/motiondata/internal/database"
	"github.com/example/motiondata/internal/logger"
	"github.com/example/motiondata/internal/routes"
	"github.com/example/motiondata/internal/services"
	"github.com/example/motiondata/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	recordStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := recordStore.Close(); err != nil {
			log.Warn("closing record store", zap.Error(err))
		}
	}()
	log.Info("record store ready", zap.String("driver", cfg.StoreDriver))

	var notifier services.Notifier
	telegram := services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat, log.Named("telegram"))
	if telegram.Enabled() {
		notifier = telegram
	}

	orders := services.NewOrderService(recordStore, log.Named("orders"), notifier)

	probe := services.NewStoreProbe(recordStore, log.Named("probe"), 5*time.Second)
	if err := probe.Check(context.Background()); err != nil {
		log.Warn("record store not reachable at startup; reads will degrade", zap.Error(err))
	}
	if err := probe.Start(cfg.StoreProbeSchedule); err != nil {
		return fmt.Errorf("store probe schedule %q: %w", cfg.StoreProbeSchedule, err)
	}
	defer probe.Stop()

	app := routes.NewApp(cfg, orders, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 2)
	var redirect *fiber.App

	if cfg.TLSEnabled() {
		redirect = newRedirectApp(cfg.HTTPSPort)
		go func() {
			log.Info("redirecting http to https", zap.String("port", cfg.AppPort))
			errs <- redirect.Listen(":" + cfg.AppPort)
		}()
		go func() {
			log.Info("starting https server", zap.String("port", cfg.HTTPSPort))
			errs <- app.ListenTLS(":"+cfg.HTTPSPort, cfg.SSLCertPath, cfg.SSLKeyPath)
		}()
	} else {
		go func() {
			log.Info("starting server", zap.String("port", cfg.AppPort))
			errs <- app.Listen(":" + cfg.AppPort)
		}()
	}

	select {
	case err := <-errs:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if redirect != nil {
		if err := redirect.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.Warn("redirect shutdown", zap.Error(err))
		}
	}
	return app.ShutdownWithTimeout(shutdownTimeout)
}

// openStore builds the record store selected by STORE_DRIVER.
func openStore(cfg *config.Config) (store.RecordStore, error) {
	switch cfg.StoreDriver {
	case config.DriverFile:
		return store.NewFileStore(cfg.DataFile)
	case config.DriverPostgres:
		db, err := database.Connect(database.DriverPostgres, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return store.NewGormStore(db), nil
	case config.DriverSQLite:
		db, err := database.Connect(database.DriverSQLite, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store.NewGormStore(db), nil
	case config.DriverREST:
		return store.NewRESTStore(store.RESTConfig{
			BaseURL:    cfg.RESTURL,
			APIKey:     cfg.RESTAPIKey,
			Timeout:    cfg.RESTTimeout,
			MaxRetries: cfg.RESTMaxRetries,
		}), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// newRedirectApp answers every plain-HTTP request with a permanent redirect
// to the same URL on the HTTPS port.
func newRedirectApp(httpsPort string) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(func(c *fiber.Ctx) error {
		host := c.Hostname()
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		target := "https://" + host
		if httpsPort != "443" {
			target += ":" + httpsPort
		}
		return c.Redirect(target+c.OriginalURL(), fiber.StatusMovedPermanently)
	})
	return app
}
