// Command catalogd serves the product catalog and order API backing the
// voicecart session clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/darkwings/voicecart/internal/dotenv"
	"github.com/darkwings/voicecart/pkg/catalog/pgstore"
	"github.com/darkwings/voicecart/pkg/catalogd/config"
	"github.com/darkwings/voicecart/pkg/catalogd/server"
	"github.com/darkwings/voicecart/pkg/checkout"
)

type catalogdDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(ctx context.Context, dsn string) (*pgstore.Store, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultCatalogdDeps() catalogdDeps {
	return catalogdDeps{
		loadConfig: config.LoadFromEnv,
		openStore:  pgstore.Open,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runCatalogd(ctx context.Context, logger *slog.Logger, deps catalogdDeps) error {
	if deps.loadConfig == nil || deps.openStore == nil {
		return errors.New("missing catalogd dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := deps.openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open catalog store: %w", err)
	}
	defer store.Close()

	var charger server.Charger
	if cfg.StripeAPIKey != "" {
		charger = checkout.New(cfg.StripeAPIKey, cfg.Currency, logger)
	} else {
		logger.Warn("no stripe key configured; orders recorded without payment")
	}

	srv := server.New(cfg, store, charger, logger)
	httpSrv := buildHTTPServer(cfg, srv.Handler())

	logger.Info("starting catalogd", "addr", cfg.Addr, "payments", charger != nil)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("catalogd stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps catalogdDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "catalogd: %v\n", err)
		return 1
	}

	if err := runCatalogd(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "catalogd: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultCatalogdDeps()))
}
