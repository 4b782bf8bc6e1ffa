package auction

import (
	"errors"
	"fmt"
)

// Rejections returned to bidders and lobby callers. All are comparable
// with errors.Is.
var (
	ErrInvalidBid        = errors.New("invalid bid")
	ErrUnknownPlayer     = errors.New("unknown player")
	ErrAuctionClosed     = errors.New("auction is closed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrDuplicateBid      = errors.New("bid already placed this round")

	ErrInvalidName     = errors.New("invalid player name")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session is closed")
	ErrSessionFull     = errors.New("session is full")
	ErrAuctionStarted  = errors.New("auction has already started")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidBid, "InvalidBid"},
	{ErrUnknownPlayer, "UnknownPlayer"},
	{ErrAuctionClosed, "AuctionClosed"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrDuplicateBid, "DuplicateBid"},
	{ErrInvalidName, "InvalidName"},
	{ErrSessionNotFound, "SessionNotFound"},
	{ErrSessionClosed, "SessionClosed"},
	{ErrSessionFull, "SessionFull"},
	{ErrAuctionStarted, "AuctionStarted"},
}

// Kind returns the rejection kind of err, or "" if err is not a rejection.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return ""
}

// IntegrityError reports a broken storage invariant: a participant in two
// sessions, more bids than players, a debit below zero. It is never caused
// by caller input.
type IntegrityError struct {
	SessionID string
	Round     int
	Reason    string
	Err       error
}

func (e *IntegrityError) Error() string {
	msg := fmt.Sprintf("integrity fault in session %s round %d: %s", e.SessionID, e.Round, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IntegrityError) Unwrap() error { return e.Err }

func integrity(sessionID string, round int, reason string, err error) *IntegrityError {
	return &IntegrityError{SessionID: sessionID, Round: round, Reason: reason, Err: err}
}

// IsIntegrity reports whether err is or wraps an *IntegrityError.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
