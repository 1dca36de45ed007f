// Package api implements the exchange's HTTP surface (§6): registration,
// the public instrument/orderbook/transactions feeds, the authenticated
// balance/order endpoints, and the admin user/instrument/balance endpoints.
// Adapted from the teacher's internal/api/server.go router and handler
// layout; auth is a raw opaque-token lookup against the users table
// instead of the teacher's JWT, since the spec has no login step at all —
// register returns the credential outright.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"toyexchange/internal/apperr"
	"toyexchange/internal/db"
	"toyexchange/internal/engine"
	"toyexchange/internal/ledger"
	"toyexchange/internal/model"
	"toyexchange/internal/view"
	"toyexchange/internal/ws"
)

type Server struct {
	store   *db.Store
	manager *engine.Manager
	ledger  *ledger.BalanceLedger
	view    *view.View
	hub     *ws.Hub
}

func NewServer(store *db.Store, mgr *engine.Manager, l *ledger.BalanceLedger, v *view.View, hub *ws.Hub) *Server {
	return &Server{store: store, manager: mgr, ledger: l, view: v, hub: hub}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json200(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/ws", s.hub.HandleWS)

	r.Route("/api/v1/public", func(r chi.Router) {
		r.Post("/register", s.register)
		r.Get("/instrument", s.listInstruments)
		r.Get("/orderbook/{ticker}", s.orderbook)
		r.Get("/transactions/{ticker}", s.transactions)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/api/v1/balance", s.getBalance)

		r.Post("/api/v1/order", s.placeOrder)
		r.Get("/api/v1/order", s.listOrders)
		r.Get("/api/v1/order/{id}", s.getOrder)
		r.Delete("/api/v1/order/{id}", s.cancelOrder)

		r.Group(func(r chi.Router) {
			r.Use(s.adminOnly)
			r.Delete("/api/v1/admin/user/{id}", s.deleteUser)
			r.Post("/api/v1/admin/instrument", s.createInstrument)
			r.Delete("/api/v1/admin/instrument/{ticker}", s.deleteInstrument)
			r.Post("/api/v1/admin/balance/deposit", s.deposit)
			r.Post("/api/v1/admin/balance/withdraw", s.withdraw)
		})
	})

	return r
}

// ── Middleware ────────────────────────────────────────

type ctxKey string

const ctxUser ctxKey = "user"

// authMiddleware resolves the Authorization: TOKEN <api_key> header (§6)
// against the users table. Unlike the teacher's JWT, the credential is the
// opaque key itself — no signature to verify, just a lookup.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || parts[0] != "TOKEN" || parts[1] == "" {
			jsonErr(w, http.StatusUnauthorized, "header", "missing or malformed Authorization header", "AuthInvalid")
			return
		}
		user, err := s.store.GetUserByAPIKey(r.Context(), parts[1])
		if err != nil {
			jsonErr(w, http.StatusInternalServerError, "server", err.Error(), "InternalError")
			return
		}
		if user == nil {
			jsonErr(w, http.StatusUnauthorized, "header", "unknown api key", "AuthInvalid")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUser, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := userFrom(r)
		if u.Role != model.RoleAdmin {
			jsonErr(w, http.StatusForbidden, "header", "admin role required", "AdminRequired")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFrom(r *http.Request) *model.User {
	return r.Context().Value(ctxUser).(*model.User)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ── Public ───────────────────────────────────────────

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req model.NewUserReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusUnprocessableEntity, "body", "invalid json", "ValidationFailed")
		return
	}
	if len(req.Name) < 3 {
		jsonErr(w, http.StatusUnprocessableEntity, "name", "name must be at least 3 characters", "ValidationFailed")
		return
	}

	apiKey := "key-" + uuid.New().String()
	user, err := s.store.CreateUser(r.Context(), req.Name, apiKey, model.RoleUser)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "server", err.Error(), "InternalError")
		return
	}
	json200(w, http.StatusOK, user)
}

func (s *Server) listInstruments(w http.ResponseWriter, r *http.Request) {
	instruments, err := s.store.ListInstruments(r.Context())
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "server", err.Error(), "InternalError")
		return
	}
	if instruments == nil {
		instruments = []model.Instrument{}
	}
	json200(w, http.StatusOK, instruments)
}

func (s *Server) orderbook(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	limit := queryInt(r, "limit", 10)
	json200(w, http.StatusOK, s.view.L2(ticker, limit))
}

func (s *Server) transactions(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	limit := queryInt(r, "limit", 10)
	trades, err := s.view.RecentTrades(r.Context(), ticker, limit)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "server", err.Error(), "InternalError")
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	json200(w, http.StatusOK, trades)
}

// ── Balance ──────────────────────────────────────────

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	snap, err := s.store.Snapshot(r.Context(), u.ID)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "server", err.Error(), "InternalError")
		return
	}
	json200(w, http.StatusOK, snap)
}

// ── Orders ───────────────────────────────────────────

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)

	var body model.OrderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonErr(w, http.StatusUnprocessableEntity, "body", "invalid json", "ValidationFailed")
		return
	}
	if body.Direction != model.DirectionBuy && body.Direction != model.DirectionSell {
		jsonErr(w, http.StatusUnprocessableEntity, "direction", "direction must be BUY or SELL", "ValidationFailed")
		return
	}
	if !model.ValidTicker(body.Ticker) {
		jsonErr(w, http.StatusUnprocessableEntity, "ticker", "ticker must match ^[A-Z]{2,10}$", "ValidationFailed")
		return
	}
	if body.Qty < 1 {
		jsonErr(w, http.StatusUnprocessableEntity, "qty", "qty must be >= 1", "ValidationFailed")
		return
	}
	if body.Price != nil && *body.Price <= 0 {
		jsonErr(w, http.StatusUnprocessableEntity, "price", "price must be > 0", "ValidationFailed")
		return
	}

	eng := s.manager.GetEngine(body.Ticker)
	if eng == nil {
		jsonErr(w, http.StatusBadRequest, "ticker", "unknown instrument", "InstrumentUnknown")
		return
	}

	order := &model.Order{
		ID:        uuid.New().String(),
		UserID:    u.ID,
		Ticker:    body.Ticker,
		Direction: body.Direction,
		Qty:       body.Qty,
		Price:     body.Price,
		Status:    model.StatusNew,
		Timestamp: time.Now().UTC(),
	}

	result, _, err := eng.Submit(order)
	if err != nil {
		writeEngineErr(w, err)
		return
	}
	json200(w, http.StatusOK, model.CreateOrderResponse{Success: true, OrderID: result.ID})
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	orders, err := s.view.OwnOrders(r.Context(), u.ID)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "server", err.Error(), "InternalError")
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	json200(w, http.StatusOK, orders)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	id := chi.URLParam(r, "id")
	order, err := s.store.GetOrder(r.Context(), id)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "server", err.Error(), "InternalError")
		return
	}
	if order == nil || order.UserID != u.ID {
		jsonErr(w, http.StatusNotFound, "id", "order not found", "NotFound")
		return
	}
	json200(w, http.StatusOK, order)
}

func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	id := chi.URLParam(r, "id")

	order, err := s.store.GetOrder(r.Context(), id)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "server", err.Error(), "InternalError")
		return
	}
	if order == nil || order.UserID != u.ID {
		jsonErr(w, http.StatusNotFound, "id", "order not found", "NotFound")
		return
	}

	eng := s.manager.GetEngine(order.Ticker)
	if eng == nil {
		jsonErr(w, http.StatusInternalServerError, "server", "engine not running", "InternalError")
		return
	}
	if err := eng.Cancel(id, u.ID); err != nil {
		writeEngineErr(w, err)
		return
	}
	json200(w, http.StatusOK, model.OkResponse)
}

// ── Admin ────────────────────────────────────────────

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user, err := s.store.DeleteUser(r.Context(), id)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "server", err.Error(), "InternalError")
		return
	}
	if user == nil {
		jsonErr(w, http.StatusNotFound, "id", "user not found", "NotFound")
		return
	}
	json200(w, http.StatusOK, user)
}

func (s *Server) createInstrument(w http.ResponseWriter, r *http.Request) {
	var req model.Instrument
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusUnprocessableEntity, "body", "invalid json", "ValidationFailed")
		return
	}
	if !model.ValidTicker(req.Ticker) {
		jsonErr(w, http.StatusUnprocessableEntity, "ticker", "ticker must match ^[A-Z]{2,10}$", "ValidationFailed")
		return
	}
	if req.Name == "" {
		jsonErr(w, http.StatusUnprocessableEntity, "name", "name required", "ValidationFailed")
		return
	}

	if existing, err := s.store.GetInstrument(r.Context(), req.Ticker); err != nil {
		jsonErr(w, http.StatusInternalServerError, "server", err.Error(), "InternalError")
		return
	} else if existing != nil {
		jsonErr(w, http.StatusBadRequest, "ticker", "instrument already exists", "InstrumentDuplicate")
		return
	}

	if err := s.store.CreateInstrument(r.Context(), req.Ticker, req.Name); err != nil {
		jsonErr(w, http.StatusInternalServerError, "server", err.Error(), "InternalError")
		return
	}
	if err := s.manager.StartEngine(r.Context(), req.Ticker); err != nil {
		jsonErr(w, http.StatusInternalServerError, "server", err.Error(), "InternalError")
		return
	}
	json200(w, http.StatusOK, model.OkResponse)
}

func (s *Server) deleteInstrument(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")
	deleted, err := s.store.DeleteInstrument(r.Context(), ticker)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "server", err.Error(), "InternalError")
		return
	}
	if !deleted {
		jsonErr(w, http.StatusNotFound, "ticker", "instrument not found", "NotFound")
		return
	}
	json200(w, http.StatusOK, model.OkResponse)
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	s.adjustBalance(w, r, +1)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	s.adjustBalance(w, r, -1)
}

// adjustBalance implements both admin deposit and withdraw: they share
// validation and only differ in the sign of the ledger delta.
func (s *Server) adjustBalance(w http.ResponseWriter, r *http.Request, sign int64) {
	var req model.DepositWithdrawReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusUnprocessableEntity, "body", "invalid json", "ValidationFailed")
		return
	}
	if req.Amount <= 0 {
		jsonErr(w, http.StatusUnprocessableEntity, "amount", "amount must be > 0", "ValidationFailed")
		return
	}
	if user, err := s.store.GetUser(r.Context(), req.UserID); err != nil {
		jsonErr(w, http.StatusInternalServerError, "server", err.Error(), "InternalError")
		return
	} else if user == nil {
		jsonErr(w, http.StatusNotFound, "user_id", "user not found", "NotFound")
		return
	}

	tx, err := s.store.BeginTx(r.Context())
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "server", err.Error(), "InternalError")
		return
	}
	defer tx.Rollback()

	if err := s.ledger.Adjust(tx, req.UserID, req.Ticker, sign*req.Amount); err != nil {
		if err == apperr.ErrInsufficientBalance {
			jsonErr(w, http.StatusBadRequest, "amount", "insufficient balance", "InsufficientBalance")
			return
		}
		jsonErr(w, http.StatusInternalServerError, "server", err.Error(), "InternalError")
		return
	}
	if err := tx.Commit(); err != nil {
		jsonErr(w, http.StatusInternalServerError, "server", err.Error(), "InternalError")
		return
	}
	json200(w, http.StatusOK, model.OkResponse)
}

// ── Helpers ──────────────────────────────────────────

func writeEngineErr(w http.ResponseWriter, err error) {
	switch err {
	case apperr.ErrInstrumentUnknown:
		jsonErr(w, http.StatusBadRequest, "ticker", err.Error(), "InstrumentUnknown")
	case apperr.ErrInsufficientBalance:
		jsonErr(w, http.StatusBadRequest, "amount", err.Error(), "InsufficientBalance")
	case apperr.ErrInsufficientLiquidity:
		jsonErr(w, http.StatusBadRequest, "qty", err.Error(), "InsufficientLiquidity")
	case apperr.ErrCannotCancelMarket:
		jsonErr(w, http.StatusBadRequest, "id", err.Error(), "CannotCancelMarket")
	case apperr.ErrCannotCancelExecuted:
		jsonErr(w, http.StatusBadRequest, "id", err.Error(), "CannotCancelExecuted")
	case apperr.ErrNotFound:
		jsonErr(w, http.StatusNotFound, "id", err.Error(), "NotFound")
	default:
		jsonErr(w, http.StatusInternalServerError, "server", err.Error(), "InternalError")
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func json200(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func jsonErr(w http.ResponseWriter, code int, loc, msg, typ string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(model.SingleError(loc, msg, typ))
}
