// Command agentd runs the demo voice-commerce agent backend voicecart
// clients connect to.
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
	"github.com/darkwings/voicecart/pkg/agentd"
	"github.com/darkwings/voicecart/pkg/catalog"
)

type agentdDeps struct {
	loadConfig   func() (agentd.Config, error)
	newBrain     func(ctx context.Context, cfg agentd.Config, logger *slog.Logger) (agentd.Brain, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultAgentdDeps() agentdDeps {
	return agentdDeps{
		loadConfig: agentd.LoadFromEnv,
		newBrain:   buildBrain,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildBrain(ctx context.Context, cfg agentd.Config, logger *slog.Logger) (agentd.Brain, error) {
	if cfg.GeminiAPIKey == "" {
		logger.Info("no model key configured, using the rule matcher")
		return agentd.RuleBrain{}, nil
	}
	return agentd.NewGeminiBrain(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
}

func runAgentd(ctx context.Context, logger *slog.Logger, deps agentdDeps) error {
	if deps.loadConfig == nil || deps.newBrain == nil {
		return errors.New("missing agentd dependency")
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

	brain, err := deps.newBrain(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build agent brain: %w", err)
	}

	catalogClient := catalog.NewClient(cfg.CatalogURL, nil)
	srv := agentd.New(cfg, brain, catalogClient, catalogClient, logger)
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	logger.Info("starting agentd", "addr", cfg.Addr, "catalog_url", cfg.CatalogURL)

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

	logger.Info("agentd stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps agentdDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "agentd: %v\n", err)
		return 1
	}

	if err := runAgentd(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "agentd: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultAgentdDeps()))
}
