package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsumeSingleLevel(t *testing.T) {
	levels := []Level{{Price: 100, Qty: 10}, {Price: 101, Qty: 10}}
	f := Consume(levels, 5)
	assert.True(t, f.Covered)
	assert.Equal(t, 1, f.LevelsUsed)
	assert.InDelta(t, 100.0, f.VWAP, 1e-9)
}

func TestConsumeSpansLevels(t *testing.T) {
	levels := []Level{{Price: 100, Qty: 2}, {Price: 102, Qty: 8}}
	f := Consume(levels, 4)
	assert.True(t, f.Covered)
	assert.Equal(t, 2, f.LevelsUsed)
	// 2@100 + 2@102 -> vwap 101
	assert.InDelta(t, 101.0, f.VWAP, 1e-9)
}

func TestConsumeUncovered(t *testing.T) {
	levels := []Level{{Price: 100, Qty: 1}}
	f := Consume(levels, 5)
	assert.False(t, f.Covered)
	assert.Equal(t, 1, f.LevelsUsed)
	assert.InDelta(t, 100.0, f.VWAP, 1e-9)
}

func TestConsumeEmpty(t *testing.T) {
	f := Consume(nil, 5)
	assert.False(t, f.Covered)
	assert.Equal(t, 0, f.LevelsUsed)
}

func TestBestBidAsk(t *testing.T) {
	s := Snapshot{Pair: "LINKZAR", Bids: []Level{{Price: 99, Qty: 1}}, Asks: []Level{{Price: 101, Qty: 1}}}
	bid, ok := s.BestBid()
	assert.True(t, ok)
	assert.Equal(t, 99.0, bid.Price)
	ask, ok := s.BestAsk()
	assert.True(t, ok)
	assert.Equal(t, 101.0, ask.Price)

	empty := Snapshot{}
	_, ok = empty.BestBid()
	assert.False(t, ok)
}
