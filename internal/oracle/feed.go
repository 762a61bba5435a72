package oracle

import (
	"sort"
)

// FeedID names an external price feed ("ETH/USD").
type FeedID string

// FeedDecimals is the fixed precision of every feed answer.
const FeedDecimals uint8 = 8

// RoundData is one published answer of a feed
type RoundData struct {
	RoundID   int64
	Answer    int64 // Price scaled by 10^FeedDecimals; may be non-positive if the feed is broken
	UpdatedAt int64 // Epoch microseconds (versioned input)
}

// Feed is the read side of an external price source
type Feed interface {
	LatestRoundData(feed FeedID) (RoundData, bool)
	Decimals() uint8
}

// PriceBook is the in-process feed, written by price update events.
// Not thread-safe; only accessed from the single-threaded deterministic core.
type PriceBook struct {
	rounds map[FeedID]RoundData
}

func NewPriceBook() *PriceBook {
	return &PriceBook{rounds: make(map[FeedID]RoundData)}
}

// Update records a new round. Rounds at or below the current one are stale and
// ignored; gaps are accepted. Returns whether the round was applied.
func (pb *PriceBook) Update(feed FeedID, round RoundData) bool {
	if current, ok := pb.rounds[feed]; ok && round.RoundID <= current.RoundID {
		return false
	}
	pb.rounds[feed] = round
	return true
}

func (pb *PriceBook) LatestRoundData(feed FeedID) (RoundData, bool) {
	round, ok := pb.rounds[feed]
	return round, ok
}

func (pb *PriceBook) Decimals() uint8 {
	return FeedDecimals
}

// All returns a copy of every feed's latest round (for snapshots)
func (pb *PriceBook) All() map[FeedID]RoundData {
	out := make(map[FeedID]RoundData, len(pb.rounds))
	for k, v := range pb.rounds {
		out[k] = v
	}
	return out
}

// Feeds returns the feeds with at least one round, sorted
func (pb *PriceBook) Feeds() []FeedID {
	feeds := make([]FeedID, 0, len(pb.rounds))
	for k := range pb.rounds {
		feeds = append(feeds, k)
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i] < feeds[j] })
	return feeds
}

// Restore sets a round directly (restore path only)
func (pb *PriceBook) Restore(feed FeedID, round RoundData) {
	pb.rounds[feed] = round
}
