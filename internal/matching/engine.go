// Package matching implements the settlement half of order admission: given
// an incoming order and a ticker's in-memory book, it walks resting orders
// in price-time priority, moves balances through the ledger, and persists
// the order and any resulting trades — all inside one caller-owned
// transaction (§4.4). Grounded on the teacher's engine.processOrder, with
// the settlement model collapsed to the spec's single reserve/refund
// ledger instead of the teacher's separate balance/locked wallet fields,
// and with the maker-price trade rule corrected (§9).
package matching

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"toyexchange/internal/apperr"
	"toyexchange/internal/book"
	"toyexchange/internal/db"
	"toyexchange/internal/ledger"
	"toyexchange/internal/model"
)

type Engine struct {
	Book   *book.OrderBook
	Store  *db.Store
	Ledger *ledger.BalanceLedger
}

func New(b *book.OrderBook, store *db.Store, l *ledger.BalanceLedger) *Engine {
	return &Engine{Book: b, Store: store, Ledger: l}
}

// Submit admits order within tx: it peeks the book for matches, reserves
// the buyer's/seller's balance, settles each fill, and inserts the order
// and trade rows. The in-memory book is mutated as fills are applied and a
// resting remainder is added, so callers must only call Submit once they
// are committed to committing tx on success — a failed commit leaves the
// book ahead of the database.
func (e *Engine) Submit(tx *sql.Tx, order *model.Order) ([]model.Trade, error) {
	oppSide := model.DirectionSell
	if order.Direction == model.DirectionSell {
		oppSide = model.DirectionBuy
	}

	matches := e.Book.FindMatches(oppSide, order.Price, order.Remaining())

	var walkedCost, walkedQty int64
	for _, m := range matches {
		walkedCost += m.Price * m.Qty
		walkedQty += m.Qty
	}

	// Market orders never rest: anything less than full coverage is rejected
	// before any balance or order row is touched (§4.5, §8 scenario 3).
	if order.IsMarket() && walkedQty < order.Qty {
		return nil, apperr.ErrInsufficientLiquidity
	}

	reservation := reservationFor(order, walkedCost, walkedQty)
	if reservation > 0 {
		asset := model.RUB
		if order.Direction == model.DirectionSell {
			asset = order.Ticker
		}
		if err := e.Ledger.Adjust(tx, order.UserID, asset, -reservation); err != nil {
			return nil, err
		}
	}

	if err := db.InsertOrder(tx, order); err != nil {
		return nil, err
	}

	var trades []model.Trade
	var filledQty int64
	for _, m := range matches {
		// The ask always sets the trade price: when order is the buyer, that
		// is the resting order m; when order is the seller, it is order's
		// own limit price, falling back to m's price only when order is a
		// market sell with no price of its own (§4.4).
		price := m.Price
		if order.Direction == model.DirectionSell && order.Price != nil {
			price = *order.Price
		}
		qty := m.Qty

		makerRemaining := m.RemainingBefore - qty
		makerFilled := m.TotalQty - makerRemaining
		makerStatus := model.StatusPartiallyExecuted
		if makerRemaining == 0 {
			makerStatus = model.StatusExecuted
		}
		if err := db.UpdateOrderFill(tx, m.OrderID, makerFilled, makerStatus); err != nil {
			return nil, err
		}

		buyerID, sellerID := order.UserID, m.UserID
		if order.Direction == model.DirectionSell {
			buyerID, sellerID = m.UserID, order.UserID
		}
		if err := e.Ledger.Adjust(tx, buyerID, order.Ticker, qty); err != nil {
			return nil, err
		}
		if err := e.Ledger.Adjust(tx, sellerID, model.RUB, price*qty); err != nil {
			return nil, err
		}

		// A resting limit buyer reserved RUB at their own (higher) price;
		// when an incoming sell clears at a lower price, refund the gap.
		if order.Direction == model.DirectionSell {
			if refund := (m.Price - price) * qty; refund > 0 {
				if err := e.Ledger.Adjust(tx, m.UserID, model.RUB, refund); err != nil {
					return nil, err
				}
			}
		}

		trade := model.Trade{
			ID:        uuid.New().String(),
			Ticker:    order.Ticker,
			Amount:    qty,
			Price:     price,
			Timestamp: time.Now(),
		}
		if err := db.InsertTrade(tx, &trade); err != nil {
			return nil, err
		}
		trades = append(trades, trade)

		e.Book.ApplyFill(m.OrderID, qty)
		filledQty += qty
	}

	order.Filled = filledQty
	switch {
	case filledQty == order.Qty:
		order.Status = model.StatusExecuted
	case order.IsMarket():
		// any unfilled remainder of a market order is simply dropped, it
		// never rests (§4.4 Non-goal).
		order.Status = model.StatusExecuted
	case filledQty > 0:
		order.Status = model.StatusPartiallyExecuted
	default:
		order.Status = model.StatusNew
	}

	// A limit buy that reserved at its own limit price but filled at a
	// better (lower) maker price is refunded the difference (§4.4, P4).
	if order.Direction == model.DirectionBuy && !order.IsMarket() && filledQty > 0 {
		var paid int64
		for _, t := range trades {
			paid += t.Price * t.Amount
		}
		reservedForFills := *order.Price * filledQty
		if refund := reservedForFills - paid; refund > 0 {
			if err := e.Ledger.Adjust(tx, order.UserID, model.RUB, refund); err != nil {
				return nil, err
			}
		}
	}

	if err := db.UpdateOrderFill(tx, order.ID, order.Filled, order.Status); err != nil {
		return nil, err
	}

	if !order.IsMarket() && order.Remaining() > 0 {
		e.Book.Add(order.Direction, &book.OrderEntry{
			OrderID:   order.ID,
			UserID:    order.UserID,
			Price:     *order.Price,
			Qty:       order.Remaining(),
			TotalQty:  order.Qty,
			Timestamp: order.Timestamp,
		})
	}

	return trades, nil
}

// reservationFor computes the balance deduction taken at admission. A
// market order reserves exactly the cost/quantity its matches will
// actually consume (so it never needs a post-trade refund); a limit order
// reserves its full remaining quantity, priced at its own limit for a buy
// and as plain units of the ticker for a sell.
func reservationFor(order *model.Order, walkedCost, walkedQty int64) int64 {
	if order.IsMarket() {
		if order.Direction == model.DirectionBuy {
			return walkedCost
		}
		return walkedQty
	}
	return model.CalcReservation(order.Direction, *order.Price, order.Remaining())
}

// CancelReservation returns the balance still held against a resting
// order's unfilled quantity, to be refunded on cancellation.
func CancelReservation(order *model.Order) (asset string, amount int64) {
	if order.Direction == model.DirectionBuy {
		return model.RUB, model.CalcReservation(order.Direction, *order.Price, order.Remaining())
	}
	return order.Ticker, model.CalcReservation(order.Direction, *order.Price, order.Remaining())
}
