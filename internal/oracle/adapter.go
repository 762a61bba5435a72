package oracle

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidPrice = errors.New("oracle: price is not positive")
	ErrStalePrice   = errors.New("oracle: price is stale")
	ErrUnknownFeed  = errors.New("oracle: feed has no answer")
)

// Price is an answer expressed at the feed's native precision
type Price struct {
	Answer    int64
	Decimals  uint8
	RoundID   int64
	UpdatedAt int64
}

// Adapter wraps a Feed and applies the validity and freshness rules.
type Adapter struct {
	feed      Feed
	heartbeat time.Duration
}

// NewAdapter returns an adapter. A zero heartbeat disables the staleness check.
func NewAdapter(feed Feed, heartbeat time.Duration) *Adapter {
	return &Adapter{feed: feed, heartbeat: heartbeat}
}

func (a *Adapter) Heartbeat() time.Duration {
	return a.heartbeat
}

// Decimals is the precision of every answer the wrapped feed publishes.
func (a *Adapter) Decimals() uint8 {
	return a.feed.Decimals()
}

// PriceOf returns the latest answer without a freshness check.
func (a *Adapter) PriceOf(feed FeedID) (Price, error) {
	round, ok := a.feed.LatestRoundData(feed)
	if !ok {
		return Price{}, fmt.Errorf("%w: %s", ErrUnknownFeed, feed)
	}
	if round.Answer <= 0 {
		return Price{}, fmt.Errorf("%w: %s answered %d", ErrInvalidPrice, feed, round.Answer)
	}
	return Price{
		Answer:    round.Answer,
		Decimals:  a.feed.Decimals(),
		RoundID:   round.RoundID,
		UpdatedAt: round.UpdatedAt,
	}, nil
}

// FreshPriceOf is PriceOf plus the heartbeat check against now (epoch micros).
func (a *Adapter) FreshPriceOf(feed FeedID, now int64) (Price, error) {
	price, err := a.PriceOf(feed)
	if err != nil {
		return Price{}, err
	}
	if a.heartbeat > 0 && now-price.UpdatedAt > a.heartbeat.Microseconds() {
		return Price{}, fmt.Errorf("%w: %s last updated %s before action",
			ErrStalePrice, feed, time.Duration(now-price.UpdatedAt)*time.Microsecond)
	}
	return price, nil
}
