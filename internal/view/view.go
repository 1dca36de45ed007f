// Package view assembles the read-only projections the API layer serves:
// the L2 book, recent trade tape, and a user's own orders. Kept as a thin
// layer over db.Store and engine.Manager so the HTTP handlers stay free of
// query logic, the way the teacher's server.go handlers delegate to Store.
package view

import (
	"context"

	"toyexchange/internal/db"
	"toyexchange/internal/engine"
	"toyexchange/internal/model"
)

type View struct {
	Store   *db.Store
	Manager *engine.Manager
}

func New(store *db.Store, mgr *engine.Manager) *View {
	return &View{Store: store, Manager: mgr}
}

// L2 returns the current in-memory order book for ticker, down to depth
// price levels per side (§6: default 10, max 25).
func (v *View) L2(ticker string, depth int) model.L2OrderBook {
	if depth <= 0 || depth > 25 {
		depth = 10
	}
	return v.Manager.GetBook(ticker, depth)
}

// RecentTrades returns the most recent trades for ticker, newest first
// (§6: default 10, max 100).
func (v *View) RecentTrades(ctx context.Context, ticker string, limit int) ([]model.Trade, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	return v.Store.ListTrades(ctx, ticker, limit)
}

// OwnOrders returns every order a user has ever placed, newest first.
func (v *View) OwnOrders(ctx context.Context, userID string) ([]model.Order, error) {
	return v.Store.GetUserOrders(ctx, userID)
}
