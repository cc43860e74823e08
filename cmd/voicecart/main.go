// Command voicecart is an interactive terminal client for a live voice
// ordering session: it drives the session lifecycle and shows the priced
// cart as the agent updates it.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/darkwings/voicecart/internal/dotenv"
	"github.com/darkwings/voicecart/pkg/cart"
	"github.com/darkwings/voicecart/pkg/catalog"
	"github.com/darkwings/voicecart/pkg/credentials"
	"github.com/darkwings/voicecart/pkg/live"
	"github.com/darkwings/voicecart/pkg/transport"
	"github.com/darkwings/voicecart/pkg/transport/ws"
)

const (
	defaultCredentialsURL = "http://127.0.0.1:8082/api/connection-details"
	defaultCatalogURL     = "http://127.0.0.1:8081"
)

type clientConfig struct {
	CredentialsURL  string
	CatalogURL      string
	WatchdogTimeout time.Duration
	PreBuffer       bool
	Verbose         bool
}

func parseClientConfig(args []string, getenv func(string) string) (clientConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := clientConfig{}
	fs := flag.NewFlagSet("voicecart", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.CredentialsURL, "credentials-url",
		envOrDefault(getenv, "VOICECART_CREDENTIALS_URL", defaultCredentialsURL),
		"connection-details endpoint")
	fs.StringVar(&cfg.CatalogURL, "catalog-url",
		envOrDefault(getenv, "VOICECART_CATALOG_URL", defaultCatalogURL),
		"catalog service base URL")
	fs.DurationVar(&cfg.WatchdogTimeout, "watchdog-timeout", 10*time.Second,
		"how long to wait for the agent before ending the session")
	fs.BoolVar(&cfg.PreBuffer, "pre-buffer", true, "buffer audio while connecting")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return clientConfig{}, err
	}

	for name, value := range map[string]string{
		"credentials-url": cfg.CredentialsURL,
		"catalog-url":     cfg.CatalogURL,
	} {
		u, err := url.Parse(strings.TrimSpace(value))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return clientConfig{}, fmt.Errorf("%s must be a valid absolute URL", name)
		}
	}
	if cfg.WatchdogTimeout <= 0 {
		return clientConfig{}, errors.New("watchdog-timeout must be > 0")
	}
	return cfg, nil
}

func envOrDefault(getenv func(string) string, key, fallback string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return fallback
}

// console serializes terminal output across subscriber callbacks.
type console struct {
	mu  sync.Mutex
	out io.Writer

	// Last snapshot values printed, for deduplicating the session feed.
	// Controller subscribers run on whichever goroutine triggered the
	// notification, so these live under the console mutex.
	lastState live.State
	lastAlert string
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) printView(view cart.View) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if view.OrderPlaced {
		fmt.Fprintln(c.out, "\n*** Order placed, thank you! ***")
	}
	if len(view.Items) == 0 {
		fmt.Fprintln(c.out, "[cart] empty")
		return
	}
	fmt.Fprintln(c.out, "[cart]")
	for _, item := range view.Items {
		fmt.Fprintf(c.out, "  %dx %-24s %7.2f\n", item.Quantity, item.Name, item.Price*float64(item.Quantity))
	}
	fmt.Fprintf(c.out, "  %d items, total %.2f\n", view.Count, view.Total)
}

func (c *console) printSnapshot(s live.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.State != c.lastState {
		c.lastState = s.State
		fmt.Fprintf(c.out, "[session %d] %s (agent: %s)\n", s.SessionID, s.State, s.AgentState)
	}
	if s.Alert != "" && s.Alert != c.lastAlert {
		fmt.Fprintf(c.out, "[alert] %s\n", s.Alert)
	}
	c.lastAlert = s.Alert
}

func runClient(ctx context.Context, cfg clientConfig, in io.Reader, out io.Writer, logger *slog.Logger) error {
	term := &console{out: out}

	store := cart.NewStore()
	catalogClient := catalog.NewClient(cfg.CatalogURL, nil)
	reconciler := cart.NewReconciler(store, catalogClient, cart.ReconcilerConfig{}, logger)
	reconciler.Subscribe(term.printView)

	creds := credentials.NewClient(cfg.CredentialsURL, nil)
	controller := live.NewController(
		live.Config{PreConnectBuffer: cfg.PreBuffer, WatchdogTimeout: cfg.WatchdogTimeout},
		creds,
		func() transport.Transport { return ws.New(logger) },
		store,
		reconciler,
		logger,
	)
	defer controller.Close()

	controller.Subscribe(term.printSnapshot)

	term.printf("voicecart — /start /stop /cart /dismiss /quit, anything else is sent to the agent\n")

	scanner := bufio.NewScanner(in)
	for {
		term.printf("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/start":
			if err := controller.Start(); err != nil {
				term.printf("[error] %v\n", err)
			}
		case line == "/stop":
			controller.Stop()
		case line == "/cart":
			term.printView(reconciler.View())
		case line == "/dismiss":
			controller.DismissAlert()
			reconciler.DismissOrderNotice()
		case strings.HasPrefix(line, "/"):
			term.printf("[error] unknown command %q\n", line)
		default:
			if err := controller.SendText(line); err != nil {
				term.printf("[error] %v\n", err)
			}
		}
	}
}

func runMain(ctx context.Context, args []string, in io.Reader, out, stderr io.Writer) int {
	if stderr == nil {
		stderr = os.Stderr
	}

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "voicecart: %v\n", err)
		return 1
	}

	cfg, err := parseClientConfig(args, os.Getenv)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "voicecart: %v\n", err)
		return 2
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if err := runClient(ctx, cfg, in, out, logger); err != nil {
		fmt.Fprintf(stderr, "voicecart: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
