// Package db is the Store: transactional Postgres access for every entity
// in the data model (§3), including the row-level balance locking the engine
// layers build on (§4.1). Matching does not scan the database; it runs off
// the in-memory book.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"toyexchange/internal/model"
)

type Store struct{ DB *sql.DB }

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Migrate(dir string) error {
	driver, err := postgres.WithInstance(s.DB, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.DB.BeginTx(ctx, nil)
}

// ── Users ────────────────────────────────────────────

func (s *Store) CreateUser(ctx context.Context, name, apiKey string, role model.Role) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (name, role, api_key) VALUES ($1,$2,$3)
		 RETURNING id, name, role, api_key`, name, role, apiKey,
	).Scan(&u.ID, &u.Name, &u.Role, &u.APIKey)
	return u, err
}

func (s *Store) GetUserByAPIKey(ctx context.Context, apiKey string) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, name, role, api_key FROM users WHERE api_key=$1`, apiKey,
	).Scan(&u.ID, &u.Name, &u.Role, &u.APIKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, name, role, api_key FROM users WHERE id=$1`, id,
	).Scan(&u.ID, &u.Name, &u.Role, &u.APIKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Store) DeleteUser(ctx context.Context, id string) (*model.User, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil || u == nil {
		return nil, err
	}
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, id); err != nil {
		return nil, err
	}
	return u, nil
}

// ── Instruments ──────────────────────────────────────

func (s *Store) CreateInstrument(ctx context.Context, ticker, name string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO instruments (ticker, name) VALUES ($1,$2)`, ticker, name)
	return err
}

func (s *Store) GetInstrument(ctx context.Context, ticker string) (*model.Instrument, error) {
	i := &model.Instrument{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT ticker, name FROM instruments WHERE ticker=$1`, ticker,
	).Scan(&i.Ticker, &i.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return i, err
}

func (s *Store) ListInstruments(ctx context.Context) ([]model.Instrument, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT ticker, name FROM instruments ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Instrument
	for rows.Next() {
		var i model.Instrument
		if err := rows.Scan(&i.Ticker, &i.Name); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, nil
}

func (s *Store) DeleteInstrument(ctx context.Context, ticker string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM instruments WHERE ticker=$1`, ticker)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ── Balances ─────────────────────────────────────────

// GetBalanceForUpdate locks (or reports the absence of) a balance row within
// tx. The bool reports whether the row exists; amount is 0 when it does not.
func (s *Store) GetBalanceForUpdate(tx *sql.Tx, userID, ticker string) (int64, bool, error) {
	var amount int64
	err := tx.QueryRow(
		`SELECT amount FROM balances WHERE user_id=$1 AND ticker=$2 FOR UPDATE`, userID, ticker,
	).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return amount, true, nil
}

func InsertBalance(tx *sql.Tx, userID, ticker string, amount int64) error {
	_, err := tx.Exec(`INSERT INTO balances (user_id, ticker, amount) VALUES ($1,$2,$3)`, userID, ticker, amount)
	return err
}

func SetBalance(tx *sql.Tx, userID, ticker string, amount int64) error {
	_, err := tx.Exec(`UPDATE balances SET amount=$1 WHERE user_id=$2 AND ticker=$3`, amount, userID, ticker)
	return err
}

// Snapshot returns the full ticker->amount mapping for a user (§4.2).
func (s *Store) Snapshot(ctx context.Context, userID string) (map[string]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT ticker, amount FROM balances WHERE user_id=$1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var ticker string
		var amount int64
		if err := rows.Scan(&ticker, &amount); err != nil {
			return nil, err
		}
		out[ticker] = amount
	}
	return out, nil
}

// ── Orders ───────────────────────────────────────────

func InsertOrder(tx *sql.Tx, o *model.Order) error {
	_, err := tx.Exec(
		`INSERT INTO orders (id, user_id, ticker, direction, qty, price, status, filled, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		o.ID, o.UserID, o.Ticker, o.Direction, o.Qty, o.Price, o.Status, o.Filled, o.Timestamp,
	)
	return err
}

func UpdateOrderFill(tx *sql.Tx, orderID string, filled int64, status model.OrderStatus) error {
	_, err := tx.Exec(`UPDATE orders SET filled=$1, status=$2 WHERE id=$3`, filled, status, orderID)
	return err
}

func UpdateOrderStatus(tx *sql.Tx, orderID string, status model.OrderStatus) error {
	_, err := tx.Exec(`UPDATE orders SET status=$1 WHERE id=$2`, status, orderID)
	return err
}

const orderColumns = `id, user_id, ticker, direction, qty, price, status, filled, created_at`

func scanOrder(row interface{ Scan(...any) error }) (*model.Order, error) {
	o := &model.Order{}
	err := row.Scan(&o.ID, &o.UserID, &o.Ticker, &o.Direction, &o.Qty, &o.Price, &o.Status, &o.Filled, &o.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
	return scanOrder(row)
}

func (s *Store) GetUserOrders(ctx context.Context, userID string) ([]model.Order, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

// GetOpenOrders returns every resting limit order for a ticker, oldest
// first; used only to rebuild a ticker's book at process start. The book
// keeps insertion order within a price level, so this ordering is what
// restores time priority after a restart.
func (s *Store) GetOpenOrders(ctx context.Context, ticker string) ([]model.Order, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE ticker=$1 AND status IN ('NEW','PARTIALLY_EXECUTED') AND price IS NOT NULL
		 ORDER BY created_at`, ticker)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]model.Order, error) {
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, nil
}

// ── Trades ───────────────────────────────────────────

func InsertTrade(tx *sql.Tx, t *model.Trade) error {
	_, err := tx.Exec(
		`INSERT INTO trades (id, ticker, amount, price, created_at) VALUES ($1,$2,$3,$4,$5)`,
		t.ID, t.Ticker, t.Amount, t.Price, t.Timestamp,
	)
	return err
}

func (s *Store) ListTrades(ctx context.Context, ticker string, limit int) ([]model.Trade, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, ticker, amount, price, created_at FROM trades
		 WHERE ticker=$1 ORDER BY created_at DESC LIMIT $2`, ticker, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.Ticker, &t.Amount, &t.Price, &t.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
