// Package book implements the in-memory price-level order book each
// per-instrument engine goroutine owns: one FIFO queue per price level,
// price-time priority, best-bid/best-ask tracking and depth snapshots.
// Adapted from the teacher's internal/engine/book.go; unlike the teacher,
// FindMatches takes no excludeUserID — self-trading is allowed (§9 Non-goal).
package book

import (
	"sort"
	"time"

	"toyexchange/internal/model"
)

// OrderEntry is a resting order's footprint inside a single price level.
type OrderEntry struct {
	OrderID   string
	UserID    string
	Price     int64
	Qty       int64 // remaining, unfilled quantity
	TotalQty  int64 // original order quantity, for deriving filled-so-far
	Timestamp time.Time
}

// Level is a FIFO queue of entries at one price.
type Level struct {
	Price   int64
	Entries []*OrderEntry
}

// Match is one proposed fill a scan across resting levels produces: up to
// Qty units against OrderID at Price. RemainingBefore and TotalQty describe
// the resting order's state at scan time, so a caller can derive its
// post-fill remaining/filled quantities without a second lookup.
type Match struct {
	OrderID         string
	UserID          string
	Price           int64
	Qty             int64
	RemainingBefore int64
	TotalQty        int64
}

// OrderBook holds both sides of a single instrument's book.
type OrderBook struct {
	Ticker string

	bids      map[int64]*Level // price -> level
	asks      map[int64]*Level
	bidPrices []int64 // sorted descending
	askPrices []int64 // sorted ascending
	byOrderID map[string]model.Direction
}

func New(ticker string) *OrderBook {
	return &OrderBook{
		Ticker:    ticker,
		bids:      make(map[int64]*Level),
		asks:      make(map[int64]*Level),
		byOrderID: make(map[string]model.Direction),
	}
}

func (b *OrderBook) sideMaps(direction model.Direction) (map[int64]*Level, *[]int64, bool) {
	if direction == model.DirectionBuy {
		return b.bids, &b.bidPrices, true // descending
	}
	return b.asks, &b.askPrices, false // ascending
}

// Add inserts a resting order into the book. A duplicate OrderID is ignored.
func (b *OrderBook) Add(direction model.Direction, e *OrderEntry) {
	if _, exists := b.byOrderID[e.OrderID]; exists {
		return
	}
	levels, prices, desc := b.sideMaps(direction)
	lvl, ok := levels[e.Price]
	if !ok {
		lvl = &Level{Price: e.Price}
		levels[e.Price] = lvl
		insertSorted(prices, e.Price, desc)
	}
	lvl.Entries = append(lvl.Entries, e)
	b.byOrderID[e.OrderID] = direction
}

func insertSorted(prices *[]int64, price int64, desc bool) {
	p := *prices
	i := sort.Search(len(p), func(i int) bool {
		if desc {
			return p[i] <= price
		}
		return p[i] >= price
	})
	p = append(p, 0)
	copy(p[i+1:], p[i:])
	p[i] = price
	*prices = p
}

// Remove deletes an order from the book, wherever it rests. Reports whether
// it was found.
func (b *OrderBook) Remove(orderID string) bool {
	direction, ok := b.byOrderID[orderID]
	if !ok {
		return false
	}
	levels, prices, _ := b.sideMaps(direction)
	for price, l := range levels {
		for i, e := range l.Entries {
			if e.OrderID == orderID {
				l.Entries = append(l.Entries[:i], l.Entries[i+1:]...)
				if len(l.Entries) == 0 {
					delete(levels, price)
					removePrice(prices, price)
				}
				delete(b.byOrderID, orderID)
				return true
			}
		}
	}
	delete(b.byOrderID, orderID)
	return false
}

func removePrice(prices *[]int64, price int64) {
	p := *prices
	for i, v := range p {
		if v == price {
			*prices = append(p[:i], p[i+1:]...)
			return
		}
	}
}

func (b *OrderBook) BestBid() (int64, bool) {
	if len(b.bidPrices) == 0 {
		return 0, false
	}
	return b.bidPrices[0], true
}

func (b *OrderBook) BestAsk() (int64, bool) {
	if len(b.askPrices) == 0 {
		return 0, false
	}
	return b.askPrices[0], true
}

// FindMatches walks the resting side opposite the incoming order (side
// identifies which resting side to scan: Sell asks for an incoming buy,
// Buy bids for an incoming sell), bounded by priceBound (nil means
// unbounded, for a market order) and by maxQty total quantity. It does not
// mutate the book; callers apply fills via ApplyFill after settlement
// succeeds.
func (b *OrderBook) FindMatches(side model.Direction, priceBound *int64, maxQty int64) []Match {
	levels, prices, _ := b.sideMaps(side)
	var out []Match
	remaining := maxQty
	for _, price := range *prices {
		if remaining <= 0 {
			break
		}
		if priceBound != nil {
			if side == model.DirectionSell && price > *priceBound {
				break // asks sorted ascending: once above bound, no more matches
			}
			if side == model.DirectionBuy && price < *priceBound {
				break // bids sorted descending: once below bound, no more matches
			}
		}
		lvl := levels[price]
		for _, e := range lvl.Entries {
			if remaining <= 0 {
				break
			}
			qty := e.Qty
			if qty > remaining {
				qty = remaining
			}
			out = append(out, Match{
				OrderID: e.OrderID, UserID: e.UserID, Price: e.Price, Qty: qty,
				RemainingBefore: e.Qty, TotalQty: e.TotalQty,
			})
			remaining -= qty
		}
	}
	return out
}

// ApplyFill reduces a resting order's remaining quantity by qty, removing it
// from the book entirely once it reaches zero.
func (b *OrderBook) ApplyFill(orderID string, qty int64) {
	direction, ok := b.byOrderID[orderID]
	if !ok {
		return
	}
	levels, prices, _ := b.sideMaps(direction)
	for price, lvl := range levels {
		for _, e := range lvl.Entries {
			if e.OrderID != orderID {
				continue
			}
			e.Qty -= qty
			if e.Qty <= 0 {
				b.removeFromLevel(levels, prices, price, orderID)
			}
			return
		}
	}
}

func (b *OrderBook) removeFromLevel(levels map[int64]*Level, prices *[]int64, price int64, orderID string) {
	lvl := levels[price]
	for i, e := range lvl.Entries {
		if e.OrderID == orderID {
			lvl.Entries = append(lvl.Entries[:i], lvl.Entries[i+1:]...)
			break
		}
	}
	if len(lvl.Entries) == 0 {
		delete(levels, price)
		removePrice(prices, price)
	}
	delete(b.byOrderID, orderID)
}

// Snapshot aggregates resting quantity per price level, most aggressive
// price first on each side, down to depth levels (0 means unbounded).
func (b *OrderBook) Snapshot(depth int) model.L2OrderBook {
	out := model.L2OrderBook{}
	for i, price := range b.bidPrices {
		if depth > 0 && i >= depth {
			break
		}
		out.BidLevels = append(out.BidLevels, model.Level{Price: price, Qty: sumQty(b.bids[price])})
	}
	for i, price := range b.askPrices {
		if depth > 0 && i >= depth {
			break
		}
		out.AskLevels = append(out.AskLevels, model.Level{Price: price, Qty: sumQty(b.asks[price])})
	}
	return out
}

func sumQty(lvl *Level) int64 {
	var total int64
	for _, e := range lvl.Entries {
		total += e.Qty
	}
	return total
}
