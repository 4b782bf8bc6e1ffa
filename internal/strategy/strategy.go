// Package strategy decides what an automated participant bids next.
package strategy

import (
	"fmt"
	"math/rand/v2"
)

// defaultBid is bid when there is no winning bid to react to.
const defaultBid = 10

// History is what a participant has observed so far.
type History struct {
	Money int
	// WinningBids holds the winning amount of every settled round, oldest
	// first.
	WinningBids []int
}

func (h History) lastWinning() (int, bool) {
	if len(h.WinningBids) == 0 {
		return 0, false
	}
	return h.WinningBids[len(h.WinningBids)-1], true
}

// Strategy chooses the next bid. The result is always in [0, h.Money].
type Strategy interface {
	NextBid(h History) int
}

func clamp(bid, money int) int {
	return max(0, min(bid, money))
}

// Fixed repeats the last winning bid.
type Fixed struct{}

func (Fixed) NextBid(h History) int {
	bid, ok := h.lastWinning()
	if !ok || bid == 0 {
		bid = defaultBid
	}
	return clamp(bid, h.Money)
}

// Random bids uniformly in [Min, Max].
type Random struct {
	Min, Max int
	Rand     *rand.Rand
}

// NewRandom returns a Random seeded from the runtime's entropy.
func NewRandom(lo, hi int) *Random {
	return &Random{Min: lo, Max: hi, Rand: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

func (r *Random) NextBid(h History) int {
	span := r.Max - r.Min + 1
	if span < 1 {
		return clamp(r.Min, h.Money)
	}
	return clamp(r.Min+r.Rand.IntN(span), h.Money)
}

// Escalating outbids the last winning bid by Percent, rounded up.
type Escalating struct {
	Percent int
}

func (e Escalating) NextBid(h History) int {
	last, ok := h.lastWinning()
	if !ok {
		return clamp(defaultBid, h.Money)
	}
	// Integer ceiling of last * (100+Percent) / 100.
	bid := (last*(100+e.Percent) + 99) / 100
	return clamp(bid, h.Money)
}

// ByName returns the named strategy: "fixed", "random" or "escalating".
func ByName(name string) (Strategy, error) {
	switch name {
	case "fixed":
		return Fixed{}, nil
	case "random":
		return NewRandom(10, 99), nil
	case "escalating":
		return Escalating{Percent: 10}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
