package model

// WalkBook simulates filling amount against levels (asks for a buy,
// bids for a sell), returning the size-weighted average price actually
// achieved and how much of amount the book could satisfy. Grounded on
// the teacher's OrderBookImbalanceStrategy.calculateDepth level-walk,
// generalized from a depth sum into a fill simulation.
func WalkBook(levels []PriceLevel, amount float64) (avgPrice float64, filled float64) {
	remaining := amount
	var cost float64
	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		take := lvl.Amount
		if take > remaining {
			take = remaining
		}
		cost += take * lvl.Price
		filled += take
		remaining -= take
	}
	if filled == 0 {
		return 0, 0
	}
	return cost / filled, filled
}

// SlippagePercent reports the percentage deviation between the book's
// best quoted price on side and the size-weighted average price
// walking the book for amount. Returns 0 if the book can't fill any of
// amount on that side.
func (s OrderBookSnapshot) SlippagePercent(amount float64, side Side) float64 {
	var levels []PriceLevel
	var best float64
	switch side {
	case SideBuy:
		levels = s.Asks
		if best1, ok := s.BestAsk(); ok {
			best = best1.Price
		}
	case SideSell:
		levels = s.Bids
		if best1, ok := s.BestBid(); ok {
			best = best1.Price
		}
	}
	if best == 0 {
		return 0
	}
	avg, filled := WalkBook(levels, amount)
	if filled == 0 {
		return 0
	}
	diff := avg - best
	if diff < 0 {
		diff = -diff
	}
	return diff / best * 100
}
