// Package botclient drives automated participants against the HTTP API.
package botclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jensholdgaard/sealedbid/internal/event"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Kind    string `json:"kind"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Kind, e.Message)
}

// IsKind reports whether err is an *APIError of the given kind.
func IsKind(err error, kind string) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Kind == kind
}

// Player is a connected participant.
type Player struct {
	ID        string `json:"playerId"`
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	Money     int    `json:"money"`
}

// Client talks to one API base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client. A nil hc uses http.DefaultClient.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// CreateSession opens a new session and returns its id.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.post(ctx, "/session", nil, &out); err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	return out.SessionID, nil
}

// Connect joins (or rejoins) sessionID as name.
func (c *Client) Connect(ctx context.Context, sessionID, name string) (Player, error) {
	var p Player
	in := map[string]string{"name": name, "sessionId": sessionID}
	if err := c.post(ctx, "/connect", in, &p); err != nil {
		return Player{}, fmt.Errorf("connecting %q: %w", name, err)
	}
	return p, nil
}

// Bid submits amount and returns the round it was accepted for.
func (c *Client) Bid(ctx context.Context, playerID string, amount int) (int, error) {
	var out struct {
		CurrentRound int `json:"currentRound"`
	}
	in := map[string]any{"playerId": playerID, "bid": amount}
	if err := c.post(ctx, "/bid", in, &out); err != nil {
		return 0, fmt.Errorf("bidding %d: %w", amount, err)
	}
	return out.CurrentRound, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	ae := &APIError{Status: resp.StatusCode}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(b, ae) != nil || ae.Message == "" {
		ae.Message = strings.TrimSpace(string(b))
	}
	return ae
}

// Stream is an open result stream.
type Stream struct {
	body io.ReadCloser
	r    *bufio.Reader
}

// Events opens playerID's result stream.
func (c *Client) Events(ctx context.Context, playerID string) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events?playerId="+playerID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("opening event stream: %w", decodeError(resp))
	}
	return &Stream{body: resp.Body, r: bufio.NewReader(resp.Body)}, nil
}

// Next blocks until the next round result. Comment frames are skipped.
func (s *Stream) Next() (event.RoundSettled, error) {
	var data []string
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return event.RoundSettled{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if len(data) == 0 {
				continue
			}
			return event.DecodeRoundSettled([]byte(strings.Join(data, "\n")))
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

// Close ends the stream.
func (s *Stream) Close() error { return s.body.Close() }
