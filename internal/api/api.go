// Package api is the HTTP boundary: session lobby, bid submission and the
// per-participant result stream.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/sealedbid/internal/auction"
	"github.com/jensholdgaard/sealedbid/internal/fanout"
	"github.com/jensholdgaard/sealedbid/internal/health"
	"github.com/jensholdgaard/sealedbid/internal/store"
)

// Lobby creates sessions and admits players.
type Lobby interface {
	CreateSession(ctx context.Context) (*store.Session, error)
	Connect(ctx context.Context, sessionID, name string) (*store.Player, error)
	Player(ctx context.Context, playerID string) (*store.Player, error)
}

// Bidder records bids.
type Bidder interface {
	SubmitBid(ctx context.Context, playerID string, amount int) (auction.Receipt, error)
}

// Streamer serves a player's result stream until ctx is done.
type Streamer interface {
	Serve(ctx context.Context, playerID string, w fanout.FlushWriter) error
}

// Handlers are the endpoint dependencies. Lobby is required. A nil Bidder
// disables /bid; a nil Streamer disables /events.
type Handlers struct {
	Lobby    Lobby
	Bidder   Bidder
	Streamer Streamer
	Health   *health.Handler
	Logger   *slog.Logger
}

// NewRouter builds the gin engine.
func NewRouter(h Handlers, tp trace.TracerProvider) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(tracing(tp))
	r.Use(requestLogger(h.Logger))

	if h.Health != nil {
		h.Health.Register(r)
	}
	r.POST("/session", h.createSession)
	r.POST("/connect", h.connect)
	if h.Bidder != nil {
		r.POST("/bid", h.bid)
	}
	if h.Streamer != nil {
		r.GET("/events", h.events)
	}
	return r
}

type connectRequest struct {
	Name      string `json:"name" binding:"required"`
	SessionID string `json:"sessionId" binding:"required"`
}

type bidRequest struct {
	PlayerID string `json:"playerId" binding:"required"`
	Bid      *int   `json:"bid" binding:"required"`
}

func (h Handlers) createSession(c *gin.Context) {
	s, err := h.Lobby.CreateSession(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sessionId": s.ID})
}

func (h Handlers) connect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := h.Lobby.Connect(c.Request.Context(), req.SessionID, req.Name)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"playerId":  p.PlayerID,
		"sessionId": p.SessionID,
		"name":      p.Name,
		"money":     p.Money,
	})
}

func (h Handlers) bid(c *gin.Context) {
	var req bidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	r, err := h.Bidder.SubmitBid(c.Request.Context(), req.PlayerID, *req.Bid)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":      "Bid received",
		"bidId":        r.BidID,
		"currentRound": r.AcceptedRound,
	})
}

func (h Handlers) events(c *gin.Context) {
	playerID := c.Query("playerId")
	if playerID == "" {
		badRequest(c, errors.New("playerId query parameter is required"))
		return
	}
	if _, err := h.Lobby.Player(c.Request.Context(), playerID); err != nil {
		h.fail(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	if err := h.Streamer.Serve(c.Request.Context(), playerID, c.Writer); err != nil {
		h.Logger.WarnContext(c.Request.Context(), "event stream ended",
			slog.String("player_id", playerID),
			slog.Any("error", err),
		)
	}
}

// statusFor maps a rejection kind to its HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "InvalidBid", "InvalidName":
		return http.StatusBadRequest
	case "UnknownPlayer", "SessionNotFound":
		return http.StatusNotFound
	default:
		return http.StatusConflict
	}
}

func (h Handlers) fail(c *gin.Context, err error) {
	kind := auction.Kind(err)
	if kind == "" {
		h.Logger.ErrorContext(c.Request.Context(), "request failed",
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "kind": "Internal"})
		return
	}
	c.JSON(statusFor(kind), gin.H{"error": err.Error(), "kind": kind})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": "Validation"})
}
