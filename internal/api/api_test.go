package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/sealedbid/internal/api"
	"github.com/jensholdgaard/sealedbid/internal/auction"
	"github.com/jensholdgaard/sealedbid/internal/clock"
	"github.com/jensholdgaard/sealedbid/internal/fanout"
	"github.com/jensholdgaard/sealedbid/internal/health"
	"github.com/jensholdgaard/sealedbid/internal/store"
)

type fakeLobby struct {
	players map[string]*store.Player
	err     error
}

func (f *fakeLobby) CreateSession(context.Context) (*store.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &store.Session{ID: "s-1", CurrentRound: 1, IsOpen: true}, nil
}

func (f *fakeLobby) Connect(_ context.Context, sessionID, name string) (*store.Player, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &store.Player{PlayerID: "p-" + name, SessionID: sessionID, Name: name, Money: 1000}, nil
}

func (f *fakeLobby) Player(_ context.Context, playerID string) (*store.Player, error) {
	p, ok := f.players[playerID]
	if !ok {
		return nil, fmt.Errorf("player %s: %w", playerID, auction.ErrUnknownPlayer)
	}
	return p, nil
}

type fakeBidder struct {
	gotPlayer string
	gotAmount int
	err       error
}

func (f *fakeBidder) SubmitBid(_ context.Context, playerID string, amount int) (auction.Receipt, error) {
	f.gotPlayer, f.gotAmount = playerID, amount
	if f.err != nil {
		return auction.Receipt{}, f.err
	}
	return auction.Receipt{BidID: "b-1", AcceptedRound: 3}, nil
}

type fakeStreamer struct{ frames []string }

func (f *fakeStreamer) Serve(_ context.Context, _ string, w fanout.FlushWriter) error {
	for _, fr := range f.frames {
		if _, err := io.WriteString(w, fr); err != nil {
			return err
		}
		w.Flush()
	}
	return nil
}

func newRouter(l api.Lobby, b api.Bidder, s api.Streamer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	hc := health.NewHandler(clock.Real{})
	hc.SetReady(true)
	return api.NewRouter(api.Handlers{
		Lobby:    l,
		Bidder:   b,
		Streamer: s,
		Health:   hc,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, noop.NewTracerProvider())
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestCreateSessionAndConnect(t *testing.T) {
	r := newRouter(&fakeLobby{}, &fakeBidder{}, nil)

	rec, body := do(t, r, http.MethodPost, "/session", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "s-1", body["sessionId"])

	rec, body = do(t, r, http.MethodPost, "/connect", `{"name":"Ann","sessionId":"s-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "p-Ann", body["playerId"])
	require.Equal(t, "s-1", body["sessionId"])
	require.Equal(t, 1000.0, body["money"])

	rec, body = do(t, r, http.MethodPost, "/connect", `{"name":"Ann"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Validation", body["kind"])
}

func TestConnect_Rejections(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantKind string
	}{
		{auction.ErrSessionNotFound, http.StatusNotFound, "SessionNotFound"},
		{auction.ErrSessionFull, http.StatusConflict, "SessionFull"},
		{auction.ErrAuctionStarted, http.StatusConflict, "AuctionStarted"},
		{auction.ErrInvalidName, http.StatusBadRequest, "InvalidName"},
		{errors.New("database on fire"), http.StatusInternalServerError, "Internal"},
	}
	for _, tt := range tests {
		t.Run(tt.wantKind, func(t *testing.T) {
			r := newRouter(&fakeLobby{err: tt.err}, &fakeBidder{}, nil)
			rec, body := do(t, r, http.MethodPost, "/connect", `{"name":"Ann","sessionId":"s-1"}`)
			require.Equal(t, tt.wantCode, rec.Code)
			require.Equal(t, tt.wantKind, body["kind"])
		})
	}
}

func TestBid(t *testing.T) {
	b := &fakeBidder{}
	r := newRouter(&fakeLobby{}, b, nil)
	pid := uuid.NewString()

	rec, body := do(t, r, http.MethodPost, "/bid", fmt.Sprintf(`{"playerId":%q,"bid":0}`, pid))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Bid received", body["message"])
	require.Equal(t, 3.0, body["currentRound"])
	require.Equal(t, pid, b.gotPlayer)
	require.Equal(t, 0, b.gotAmount)

	rec, _ = do(t, r, http.MethodPost, "/bid", fmt.Sprintf(`{"playerId":%q}`, pid))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, r, http.MethodPost, "/bid", `{invalid json}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBid_Rejections(t *testing.T) {
	tests := []struct {
		err      error
		wantCode int
		wantKind string
	}{
		{auction.ErrInvalidBid, http.StatusBadRequest, "InvalidBid"},
		{auction.ErrUnknownPlayer, http.StatusNotFound, "UnknownPlayer"},
		{auction.ErrAuctionClosed, http.StatusConflict, "AuctionClosed"},
		{auction.ErrInsufficientFunds, http.StatusConflict, "InsufficientFunds"},
		{fmt.Errorf("round 2: %w", auction.ErrDuplicateBid), http.StatusConflict, "DuplicateBid"},
	}
	for _, tt := range tests {
		t.Run(tt.wantKind, func(t *testing.T) {
			r := newRouter(&fakeLobby{}, &fakeBidder{err: tt.err}, nil)
			rec, body := do(t, r, http.MethodPost, "/bid", `{"playerId":"x","bid":5}`)
			require.Equal(t, tt.wantCode, rec.Code)
			require.Equal(t, tt.wantKind, body["kind"])
			require.NotEmpty(t, body["error"])
		})
	}
}

func TestEvents(t *testing.T) {
	lobby := &fakeLobby{players: map[string]*store.Player{"p1": {PlayerID: "p1"}}}
	s := &fakeStreamer{frames: []string{": connected\n\n", "data: {\"round\":1}\n\n"}}
	r := newRouter(lobby, nil, s)

	rec, _ := do(t, r, http.MethodGet, "/events?playerId=p1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "data: {\"round\":1}\n\n")

	rec, body := do(t, r, http.MethodGet, "/events?playerId=nobody", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "UnknownPlayer", body["kind"])

	rec, _ = do(t, r, http.MethodGet, "/events", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Without a Bidder only /bid is disabled; the lobby stays up.
	rec, _ = do(t, r, http.MethodPost, "/bid", `{"playerId":"p1","bid":1}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = do(t, r, http.MethodPost, "/session", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "s-1", body["sessionId"])

	rec, body = do(t, r, http.MethodPost, "/connect", `{"name":"ann","sessionId":"s-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "p-ann", body["playerId"])
}

func TestHealthRoutes(t *testing.T) {
	r := newRouter(&fakeLobby{}, &fakeBidder{}, nil)
	rec, body := do(t, r, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ready", body["status"])
}
