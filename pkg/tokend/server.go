package tokend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/workos/workos-go/v6/pkg/usermanagement"

	"github.com/darkwings/voicecart/pkg/core"
	"github.com/darkwings/voicecart/pkg/credentials"
)

// Config is the connection-details service configuration.
type Config struct {
	Addr string

	// ServerURL is the transport endpoint handed to clients.
	ServerURL string

	// APISecret signs participant tokens. The transport backend must share
	// it to verify hellos.
	APISecret string

	RoomPrefix string
	TokenTTL   time.Duration

	// WorkOSAPIKey enables resolving participant names from WorkOS user
	// management. Anonymous participants are used when empty.
	WorkOSAPIKey string

	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("TOKEND_ADDR", ":8082"),
		ServerURL:           strings.TrimSpace(os.Getenv("TOKEND_SERVER_URL")),
		APISecret:           strings.TrimSpace(os.Getenv("TOKEND_API_SECRET")),
		RoomPrefix:          envOr("TOKEND_ROOM_PREFIX", "voice_order_room_"),
		TokenTTL:            envDurationOr("TOKEND_TOKEN_TTL", 10*time.Minute),
		WorkOSAPIKey:        strings.TrimSpace(os.Getenv("WORKOS_API_KEY")),
		ReadHeaderTimeout:   envDurationOr("TOKEND_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("TOKEND_SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
	if cfg.ServerURL == "" {
		return Config{}, fmt.Errorf("TOKEND_SERVER_URL is required")
	}
	if cfg.APISecret == "" {
		return Config{}, fmt.Errorf("TOKEND_API_SECRET is required")
	}
	if cfg.TokenTTL <= 0 {
		return Config{}, fmt.Errorf("TOKEND_TOKEN_TTL must be > 0")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// nameResolver maps an authenticated user id to a display name.
type nameResolver interface {
	ResolveName(ctx context.Context, userID string) (string, error)
}

type workosResolver struct{}

func (workosResolver) ResolveName(ctx context.Context, userID string) (string, error) {
	user, err := usermanagement.GetUser(ctx, usermanagement.GetUserOpts{User: userID})
	if err != nil {
		return "", fmt.Errorf("workos user lookup: %w", err)
	}
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		name = user.Email
	}
	return name, nil
}

// Server issues connection details over HTTP.
type Server struct {
	cfg      Config
	minter   *Minter
	resolver nameResolver
	logger   *slog.Logger
}

// New creates the connection-details service.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	var resolver nameResolver
	if cfg.WorkOSAPIKey != "" {
		usermanagement.SetAPIKey(cfg.WorkOSAPIKey)
		resolver = workosResolver{}
	}
	return &Server{
		cfg:      cfg,
		minter:   NewMinter(cfg.APISecret, "voicecart-tokend", cfg.TokenTTL),
		resolver: resolver,
		logger:   logger,
	}
}

// Handler returns the service's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/connection-details", s.handleConnectionDetails)
	return mux
}

// handleConnectionDetails assigns a room and identity and mints a token for
// exactly one session. Nothing is cached; every call is a fresh grant.
func (s *Server) handleConnectionDetails(w http.ResponseWriter, r *http.Request) {
	suffix := rand.IntN(10_000)
	room := fmt.Sprintf("%s%04d", s.cfg.RoomPrefix, suffix)
	identity := fmt.Sprintf("voice_user_%04d", rand.IntN(10_000))

	name := identity
	if userID := strings.TrimSpace(r.URL.Query().Get("user_id")); userID != "" && s.resolver != nil {
		resolved, err := s.resolver.ResolveName(r.Context(), userID)
		if err != nil {
			s.logger.Warn("participant name lookup failed", "user_id", userID, "error", err)
		} else if resolved != "" {
			name = resolved
		}
	}

	token, err := s.minter.Mint(identity, room)
	if err != nil {
		s.logger.Error("mint participant token", "error", err)
		writeError(w, http.StatusInternalServerError, core.NewAPIError("failed to mint token"))
		return
	}

	s.logger.Info("issued connection details", "room", room, "identity", identity)
	writeJSON(w, http.StatusOK, credentials.Details{
		ServerURL:        s.cfg.ServerURL,
		RoomName:         room,
		ParticipantName:  name,
		ParticipantToken: token,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	var coreErr *core.Error
	if !errors.As(err, &coreErr) {
		coreErr = core.NewAPIError(err.Error())
	}
	writeJSON(w, status, map[string]*core.Error{"error": coreErr})
}
