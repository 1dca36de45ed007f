// Package model holds the domain types shared across the exchange: entities,
// enums, and the wire-level request/response shapes the HTTP layer decodes
// and encodes.
package model

import (
	"regexp"
	"time"
)

// ── Enums ────────────────────────────────────────────

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

type OrderStatus string

const (
	StatusNew               OrderStatus = "NEW"
	StatusPartiallyExecuted OrderStatus = "PARTIALLY_EXECUTED"
	StatusExecuted          OrderStatus = "EXECUTED"
	StatusCancelled         OrderStatus = "CANCELLED"
)

// RUB is the fixed quote currency. All prices and all BUY/SELL settlement is
// denominated in it; it is not itself a tradable instrument.
const RUB = "RUB"

// TickerPattern is the wire format for an instrument ticker (§3).
var TickerPattern = regexp.MustCompile(`^[A-Z]{2,10}$`)

func ValidTicker(ticker string) bool {
	return TickerPattern.MatchString(ticker)
}

// ── Domain Objects ───────────────────────────────────

type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
	APIKey string `json:"api_key"`
}

type Instrument struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
}

type Balance struct {
	UserID string `json:"-"`
	Ticker string `json:"-"`
	Amount int64  `json:"amount"`
}

// Order is the single internal record for both limit and market orders
// (§9's polymorphic-body note): Price is nil for a market order, and
// IsMarket is derived from that, never stored separately.
type Order struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Ticker    string      `json:"ticker"`
	Direction Direction   `json:"direction"`
	Qty       int64       `json:"qty"`
	Price     *int64      `json:"price,omitempty"`
	Status    OrderStatus `json:"status"`
	Filled    int64       `json:"filled"`
	Timestamp time.Time   `json:"timestamp"`
}

func (o *Order) IsMarket() bool { return o.Price == nil }

func (o *Order) Remaining() int64 { return o.Qty - o.Filled }

type Trade struct {
	ID        string    `json:"id"`
	Ticker    string    `json:"ticker"`
	Amount    int64     `json:"amount"`
	Price     int64     `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// ── Wire DTOs ────────────────────────────────────────

type NewUserReq struct {
	Name string `json:"name"`
}

type Level struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
}

type L2OrderBook struct {
	BidLevels []Level `json:"bid_levels"`
	AskLevels []Level `json:"ask_levels"`
}

// OrderBody is the decoded shape of a POST /api/v1/order request. Price is
// nil for a market order (§9).
type OrderBody struct {
	Direction Direction `json:"direction"`
	Ticker    string    `json:"ticker"`
	Qty       int64     `json:"qty"`
	Price     *int64    `json:"price,omitempty"`
}

func (b *OrderBody) IsMarket() bool { return b.Price == nil }

type CreateOrderResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"order_id"`
}

type Ok struct {
	Success bool `json:"success"`
}

var OkResponse = Ok{Success: true}

type DepositWithdrawReq struct {
	UserID string `json:"user_id"`
	Ticker string `json:"ticker"`
	Amount int64  `json:"amount"`
}

// ── Error envelope (§6/§7) ───────────────────────────

type ValidationError struct {
	Loc  string `json:"loc"`
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

type HTTPValidationError struct {
	Detail []ValidationError `json:"detail"`
}

func SingleError(loc, msg, typ string) HTTPValidationError {
	return HTTPValidationError{Detail: []ValidationError{{Loc: loc, Msg: msg, Type: typ}}}
}

// ── Reservation arithmetic (§4.2, §4.5) ──────────────

// CalcReservation computes the balance deduction taken at admission time for
// a resting limit order: price*(qty-filled) units of RUB for a buy, or
// (qty-filled) units of ticker for a sell. Market orders reserve the actual
// walked cost/quantity computed separately by the matching engine, not this
// helper.
func CalcReservation(direction Direction, price int64, remaining int64) int64 {
	if direction == DirectionBuy {
		return price * remaining
	}
	return remaining
}
