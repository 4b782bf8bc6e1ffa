// Package event defines the payloads exchanged over the event channel
// between bid intake, the settlement coordinator and the fan-out.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Default topic names.
const (
	BidReceivedTopic  = "bid.received"
	RoundResultsTopic = "round.results"
)

// BidSubmitted is published by intake after a bid is durably recorded.
type BidSubmitted struct {
	BidID     string `json:"bidId"`
	PlayerID  string `json:"playerId"`
	SessionID string `json:"sessionId"`
	Round     int    `json:"round"`
	Amount    int    `json:"amount"`
}

// BidEntry is one participant's bid as disclosed after settlement.
type BidEntry struct {
	PlayerID string `json:"playerId"`
	Amount   int    `json:"amount"`
}

// RoundSettled is published once per settled round and streamed verbatim
// to participants.
type RoundSettled struct {
	SessionID string     `json:"sessionId"`
	Round     int        `json:"round"`
	Bids      []BidEntry `json:"bids"`
	WinnerID  string     `json:"winnerId"`
	Amount    int        `json:"amount"`
	Subject   string     `json:"subject"`
}

// WinningAmount returns the amount bid by the winner, or 0.
func (r RoundSettled) WinningAmount() int {
	for _, b := range r.Bids {
		if b.PlayerID == r.WinnerID {
			return b.Amount
		}
	}
	return 0
}

var errMissingField = errors.New("missing required field")

// DecodeBidSubmitted parses and validates a bid.received payload.
func DecodeBidSubmitted(data []byte) (BidSubmitted, error) {
	var e BidSubmitted
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("unmarshalling bid submitted: %w", err)
	}
	switch {
	case e.SessionID == "":
		return e, fmt.Errorf("bid submitted: sessionId: %w", errMissingField)
	case e.Round < 1:
		return e, fmt.Errorf("bid submitted: round %d out of range", e.Round)
	}
	return e, nil
}

// DecodeRoundSettled parses and validates a round.results payload.
func DecodeRoundSettled(data []byte) (RoundSettled, error) {
	var e RoundSettled
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("unmarshalling round settled: %w", err)
	}
	if e.WinnerID == "" {
		return e, fmt.Errorf("round settled: winnerId: %w", errMissingField)
	}
	return e, nil
}
