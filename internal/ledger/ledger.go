// Package ledger wraps the balances table with the single invariant the
// rest of the engine leans on: a user's balance in any ticker never goes
// negative (§4.2). It is modeled on the teacher's GetWalletForUpdate /
// WalletAddLocked pair, collapsed from a two-field (balance, locked) wallet
// to a single non-negative amount per (user, ticker).
package ledger

import (
	"database/sql"

	"toyexchange/internal/apperr"
	"toyexchange/internal/db"
)

type BalanceLedger struct{ Store *db.Store }

func New(store *db.Store) *BalanceLedger {
	return &BalanceLedger{Store: store}
}

// Adjust applies delta to a user's balance in ticker within tx, locking the
// row first. A negative delta that would drive the balance below zero is
// rejected and the row is left untouched; the caller is expected to roll
// back the whole transaction.
func (l *BalanceLedger) Adjust(tx *sql.Tx, userID, ticker string, delta int64) error {
	amount, found, err := l.Store.GetBalanceForUpdate(tx, userID, ticker)
	if err != nil {
		return err
	}
	next := amount + delta
	if next < 0 {
		return apperr.ErrInsufficientBalance
	}
	if !found {
		if delta < 0 {
			return apperr.ErrInsufficientBalance
		}
		return db.InsertBalance(tx, userID, ticker, next)
	}
	return db.SetBalance(tx, userID, ticker, next)
}
