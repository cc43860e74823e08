// Package credentials fetches per-session connection details from the
// credential service. Tokens are single-session: the lifecycle controller
// requests a fresh set on every start and never reuses a stale one.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/darkwings/voicecart/pkg/core"
)

// Details carries everything needed to open one transport connection.
type Details struct {
	ServerURL        string `json:"serverUrl"`
	RoomName         string `json:"roomName,omitempty"`
	ParticipantName  string `json:"participantName,omitempty"`
	ParticipantToken string `json:"participantToken"`
}

// Fetcher obtains fresh connection details. The lifecycle controller depends
// on this interface, not on the HTTP client.
type Fetcher interface {
	FetchCredentials(ctx context.Context) (Details, error)
}

// Client fetches connection details over HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a credentials client for the given endpoint URL.
func NewClient(endpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{endpoint: endpoint, httpClient: httpClient}
}

// FetchCredentials requests a fresh server URL and participant token.
func (c *Client) FetchCredentials(ctx context.Context) (Details, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return Details{}, fmt.Errorf("build connection-details request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Details{}, core.NewTransportError("fetch connection details: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Details{}, core.NewTransportError(fmt.Sprintf("connection details returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var details Details
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		return Details{}, core.NewTransportError("decode connection details: " + err.Error())
	}
	if details.ServerURL == "" || details.ParticipantToken == "" {
		return Details{}, core.NewTransportError("connection details missing server URL or token")
	}
	return details, nil
}
