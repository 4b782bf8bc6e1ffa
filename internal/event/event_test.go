package event_test

import (
	"encoding/json"
	"testing"

	"github.com/jensholdgaard/sealedbid/internal/event"
)

func TestDecodeBidSubmitted(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"valid", `{"bidId":"b1","playerId":"p1","sessionId":"s1","round":2,"amount":40}`, false},
		{"missing session", `{"bidId":"b1","playerId":"p1","round":2,"amount":40}`, true},
		{"round zero", `{"sessionId":"s1","round":0}`, true},
		{"garbage", `{not json`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := event.DecodeBidSubmitted([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeBidSubmitted() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (got.SessionID != "s1" || got.Round != 2) {
				t.Errorf("DecodeBidSubmitted() = %+v", got)
			}
		})
	}
}

func TestRoundSettled_WireFormat(t *testing.T) {
	rs := event.RoundSettled{
		SessionID: "s1",
		Round:     1,
		Bids:      []event.BidEntry{{PlayerID: "A", Amount: 100}, {PlayerID: "B", Amount: 80}},
		WinnerID:  "A",
		Amount:    100,
		Subject:   "Property 1",
	}
	data, err := json.Marshal(rs)
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"round", "bids", "winnerId", "subject"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("payload missing %q: %s", key, data)
		}
	}

	got, err := event.DecodeRoundSettled(data)
	if err != nil {
		t.Fatalf("DecodeRoundSettled() error = %v", err)
	}
	if got.WinningAmount() != 100 {
		t.Errorf("WinningAmount() = %d, want 100", got.WinningAmount())
	}
}

func TestDecodeRoundSettled_MissingWinner(t *testing.T) {
	if _, err := event.DecodeRoundSettled([]byte(`{"round":1,"bids":[]}`)); err == nil {
		t.Fatal("expected error for missing winnerId")
	}
}
