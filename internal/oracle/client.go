// Package oracle is the HTTP client for the external decision service
// that generates round topics and adjudicates lobby eliminations.
//
// The oracle is slow and unreliable by nature (it fronts a model), so the
// client is deliberately thin: one bounded attempt per call, a typed error
// telling the caller what failed, and no retries — phase handlers own the
// fallback semantics.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrorKind classifies a failed oracle call.
type ErrorKind string

const (
	ErrKindNetwork ErrorKind = "network"
	ErrKindStatus  ErrorKind = "status"
	ErrKindDecode  ErrorKind = "decode"
)

// Error is returned by every failing oracle operation. StatusCode is set
// only for ErrKindStatus.
type Error struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("oracle: %s: %s %d", e.Op, e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("oracle: %s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("oracle: %s: %s", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Config holds the oracle client configuration.
type Config struct {
	// BaseURL is the decision service endpoint (required).
	BaseURL string

	// Timeout bounds each call (default 30s).
	Timeout time.Duration
}

// Client talks to the decision service. Safe for concurrent use; the
// elimination phase fans one call per lobby out of it.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates an oracle client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// RoundAnnouncement requests the discussion topic for a round.
func (c *Client) RoundAnnouncement(ctx context.Context, agentID string, roundNumber int) (string, error) {
	const op = "roundAnnouncement"

	url := fmt.Sprintf("%s/%s/roundAnnouncement/%d", c.config.BaseURL, agentID, roundNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &Error{Kind: ErrKindNetwork, Op: op, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{Kind: ErrKindNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &Error{Kind: ErrKindStatus, Op: op, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: ErrKindNetwork, Op: op, Err: err}
	}

	var out struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &Error{Kind: ErrKindDecode, Op: op, Err: err}
	}
	return out.Data, nil
}

// DecisionRequest identifies the lobby the oracle must adjudicate.
type DecisionRequest struct {
	AgentID      string `json:"agentId"`
	SessionID    int64  `json:"sessionId"`
	LobbyID      string `json:"lobbyId"`
	MaxRounds    int    `json:"maxRounds"`
	CurrentRound int    `json:"currentRound"`
}

// EliminatedPlayer is one entry of the oracle's verdict.
type EliminatedPlayer struct {
	Participant string `json:"participant"`
	Reason      string `json:"reason,omitempty"`
}

// Decision is the oracle's verdict for one lobby. Success false means the
// oracle declined to decide; callers leave the lobby untouched.
type Decision struct {
	Eliminated []EliminatedPlayer
	Success    bool
}

// DecideEliminations asks the oracle which players leave the lobby this
// round.
func (c *Client) DecideEliminations(ctx context.Context, dreq DecisionRequest) (*Decision, error) {
	const op = "decideEliminations"

	body, err := json.Marshal(dreq)
	if err != nil {
		return nil, &Error{Kind: ErrKindDecode, Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/decideEliminations", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: ErrKindNetwork, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: ErrKindNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Kind: ErrKindStatus, Op: op, StatusCode: resp.StatusCode}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrKindNetwork, Op: op, Err: err}
	}

	var out struct {
		Response []EliminatedPlayer `json:"response"`
		Success  bool               `json:"success"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &Error{Kind: ErrKindDecode, Op: op, Err: err}
	}

	return &Decision{Eliminated: out.Response, Success: out.Success}, nil
}
