package oracle_test

import (
	"testing"
	"time"

	"StableLedger/internal/oracle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ethUsd oracle.FeedID = "ETH/USD"

func TestPriceBook_IgnoresStaleRounds(t *testing.T) {
	pb := oracle.NewPriceBook()

	assert.True(t, pb.Update(ethUsd, oracle.RoundData{RoundID: 2, Answer: 2000e8}))
	assert.False(t, pb.Update(ethUsd, oracle.RoundData{RoundID: 2, Answer: 1e8}))
	assert.False(t, pb.Update(ethUsd, oracle.RoundData{RoundID: 1, Answer: 1e8}))
	assert.True(t, pb.Update(ethUsd, oracle.RoundData{RoundID: 7, Answer: 18e8}), "gaps are accepted")

	round, ok := pb.LatestRoundData(ethUsd)
	require.True(t, ok)
	assert.Equal(t, int64(18e8), round.Answer)
}

func TestAdapter_PriceOf(t *testing.T) {
	pb := oracle.NewPriceBook()
	pb.Update(ethUsd, oracle.RoundData{RoundID: 1, Answer: 2000e8, UpdatedAt: 100})
	a := oracle.NewAdapter(pb, 0)

	price, err := a.PriceOf(ethUsd)
	require.NoError(t, err)
	assert.Equal(t, int64(2000e8), price.Answer)
	assert.Equal(t, oracle.FeedDecimals, price.Decimals)

	_, err = a.PriceOf("BTC/USD")
	assert.ErrorIs(t, err, oracle.ErrUnknownFeed)
}

func TestAdapter_RejectsNonPositive(t *testing.T) {
	pb := oracle.NewPriceBook()
	pb.Update(ethUsd, oracle.RoundData{RoundID: 1, Answer: 0})
	a := oracle.NewAdapter(pb, 0)

	_, err := a.PriceOf(ethUsd)
	assert.ErrorIs(t, err, oracle.ErrInvalidPrice)

	pb.Update(ethUsd, oracle.RoundData{RoundID: 2, Answer: -5})
	_, err = a.PriceOf(ethUsd)
	assert.ErrorIs(t, err, oracle.ErrInvalidPrice)
}

func TestAdapter_Staleness(t *testing.T) {
	pb := oracle.NewPriceBook()
	updatedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMicro()
	pb.Update(ethUsd, oracle.RoundData{RoundID: 1, Answer: 2000e8, UpdatedAt: updatedAt})
	a := oracle.NewAdapter(pb, time.Hour)

	_, err := a.FreshPriceOf(ethUsd, updatedAt+time.Hour.Microseconds())
	assert.NoError(t, err, "exactly one heartbeat old is still fresh")

	_, err = a.FreshPriceOf(ethUsd, updatedAt+time.Hour.Microseconds()+1)
	assert.ErrorIs(t, err, oracle.ErrStalePrice)

	unchecked := oracle.NewAdapter(pb, 0)
	_, err = unchecked.FreshPriceOf(ethUsd, updatedAt+10*time.Hour.Microseconds())
	assert.NoError(t, err)
}
