// Package orderbook holds the L2 snapshot model shared by the evaluator,
// the scanner and the exchange gateways.
package orderbook

import "time"

type Level struct {
	Price float64
	Qty   float64
}

// Snapshot is one pair's book at one point in time. Bids are sorted
// descending by price, asks ascending. A snapshot is owned by the scan
// that fetched it and is never cached across scans.
type Snapshot struct {
	Pair      string
	Bids      []Level
	Asks      []Level
	FetchedAt time.Time
}

func (s Snapshot) BestBid() (Level, bool) {
	if len(s.Bids) == 0 {
		return Level{}, false
	}
	return s.Bids[0], true
}

func (s Snapshot) BestAsk() (Level, bool) {
	if len(s.Asks) == 0 {
		return Level{}, false
	}
	return s.Asks[0], true
}

// Fill is the outcome of walking book levels for a required quantity.
type Fill struct {
	VWAP       float64
	LevelsUsed int
	Covered    bool
}

// Consume walks levels in order, accumulating quantity until qty is
// covered, and reports the volume-weighted price over the consumed
// depth. Covered=false means the whole visible book is thinner than qty;
// VWAP and LevelsUsed then describe the available depth.
func Consume(levels []Level, qty float64) Fill {
	if qty <= 0 || len(levels) == 0 {
		return Fill{}
	}
	var cost, filled float64
	used := 0
	for _, lvl := range levels {
		take := qty - filled
		if take > lvl.Qty {
			take = lvl.Qty
		}
		if take <= 0 {
			break
		}
		cost += take * lvl.Price
		filled += take
		used++
		if filled >= qty {
			break
		}
	}
	if filled <= 0 {
		return Fill{}
	}
	return Fill{VWAP: cost / filled, LevelsUsed: used, Covered: filled >= qty}
}
