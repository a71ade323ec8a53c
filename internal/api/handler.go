// Package api exposes the coin ledger, market catalog and portfolio over
// JSON/HTTP.
//
// Catalog and portfolio reads degrade to an empty result when the store
// fails, so browsing never hard-fails. Mutations surface their errors.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pasarprediksi/market-core/internal/auth"
	"github.com/pasarprediksi/market-core/internal/catalog"
	"github.com/pasarprediksi/market-core/internal/coin"
	"github.com/pasarprediksi/market-core/internal/model"
	"github.com/pasarprediksi/market-core/internal/portfolio"
)

// Handler serves the /api/v1 routes.
type Handler struct {
	coins     *coin.Service
	catalog   *catalog.Service
	portfolio *portfolio.Service
	hub       *WSHub
}

// NewHandler wires the HTTP surface. hub may be nil.
func NewHandler(coins *coin.Service, cat *catalog.Service, pf *portfolio.Service, hub *WSHub) *Handler {
	return &Handler{coins: coins, catalog: cat, portfolio: pf, hub: hub}
}

// Routes registers every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	if h.hub != nil {
		r.Get("/ws", h.hub.HandleWS)
	}

	r.Get("/markets", h.ListMarkets)
	r.Get("/markets/featured", h.ListFeatured)
	r.Get("/markets/{marketID}", h.GetMarket)
	r.Get("/markets/{marketID}/history", h.GetMarketHistory)

	r.Group(func(r chi.Router) {
		r.Use(requireUser)

		r.Post("/markets", h.CreateMarket)
		r.Patch("/markets/{marketID}", h.UpdateMarket)
		r.Delete("/markets/{marketID}", h.DeleteMarket)

		r.Post("/transactions", h.ExecuteTransaction)

		r.Get("/me/profile", h.GetProfile)
		r.Post("/me/balance", h.UpdateBalance)
		r.Post("/me/hunting/{challenge}", h.ClaimHuntingReward)
		r.Get("/me/positions", h.ListPositions)
		r.Get("/me/transactions", h.ListTransactions)
		r.Get("/me/history", h.GetPortfolioHistory)
	})
}

// requireUser rejects anonymous requests with 401.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.UserID(r.Context()); !ok {
			writeError(w, model.ErrAuthenticationRequired.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Catalog ---

// ListMarkets handles GET /api/v1/markets
// Query: category, page, limit, search, featured.
func (h *Handler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := catalog.Query{
		Category: q.Get("category"),
		Page:     intParam(q.Get("page"), catalog.DefaultPage),
		Limit:    intParam(q.Get("limit"), catalog.DefaultLimit),
		Search:   q.Get("search"),
	}
	if v, err := strconv.ParseBool(q.Get("featured")); err == nil {
		query.Featured = &v
	}

	page, err := h.catalog.List(r.Context(), query)
	if err != nil {
		slog.Warn("list markets degraded to empty", "err", err)
		page = catalog.EmptyPage()
	}
	writeJSON(w, http.StatusOK, page)
}

// ListFeatured handles GET /api/v1/markets/featured
func (h *Handler) ListFeatured(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r.URL.Query().Get("limit"), catalog.DefaultFeaturedLimit)

	markets, err := h.catalog.ListFeatured(r.Context(), limit)
	if err != nil {
		slog.Warn("featured markets degraded to empty", "err", err)
	}
	if markets == nil {
		markets = []model.Market{}
	}
	writeJSON(w, http.StatusOK, markets)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.catalog.GetByID(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			slog.Warn("get market failed", "err", err)
		}
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// CreateMarket handles POST /api/v1/markets
func (h *Handler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req catalog.NewMarket
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	m, err := h.catalog.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// UpdateMarket handles PATCH /api/v1/markets/{marketID}
func (h *Handler) UpdateMarket(w http.ResponseWriter, r *http.Request) {
	var req model.MarketUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	m, err := h.catalog.Update(r.Context(), chi.URLParam(r, "marketID"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// DeleteMarket handles DELETE /api/v1/markets/{marketID}
func (h *Handler) DeleteMarket(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Delete(r.Context(), chi.URLParam(r, "marketID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetMarketHistory handles GET /api/v1/markets/{marketID}/history?days=N
func (h *Handler) GetMarketHistory(w http.ResponseWriter, r *http.Request) {
	days := intParam(r.URL.Query().Get("days"), portfolio.DefaultHistoryDays)

	points, err := h.portfolio.MarketHistory(r.Context(), chi.URLParam(r, "marketID"), days)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, "market not found", http.StatusNotFound)
			return
		}
		slog.Warn("market history degraded to empty", "err", err)
		points = []model.HistoryPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

// --- Portfolio ---

// ExecuteTransaction handles POST /api/v1/transactions
func (h *Handler) ExecuteTransaction(w http.ResponseWriter, r *http.Request) {
	var req portfolio.Trade
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	tx, err := h.portfolio.ExecuteTransaction(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// ListPositions handles GET /api/v1/me/positions
func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.portfolio.Positions(r.Context())
	if err != nil {
		slog.Warn("positions degraded to empty", "err", err)
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// ListTransactions handles GET /api/v1/me/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.portfolio.Transactions(r.Context())
	if err != nil {
		slog.Warn("transactions degraded to empty", "err", err)
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// GetPortfolioHistory handles GET /api/v1/me/history?days=N
func (h *Handler) GetPortfolioHistory(w http.ResponseWriter, r *http.Request) {
	days := intParam(r.URL.Query().Get("days"), portfolio.DefaultHistoryDays)

	points, err := h.portfolio.PortfolioHistory(r.Context(), days)
	if err != nil {
		slog.Warn("portfolio history degraded to empty", "err", err)
		points = []model.HistoryPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

// --- Coin ledger ---

// GetProfile handles GET /api/v1/me/profile
// Creates the profile on first access and rolls the daily attempts over.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	p, err := h.coins.CheckAndResetDailyAttempts(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// BalanceRequest is the JSON body for POST /me/balance.
type BalanceRequest struct {
	Delta int64 `json:"delta"`
}

// UpdateBalance handles POST /api/v1/me/balance
func (h *Handler) UpdateBalance(w http.ResponseWriter, r *http.Request) {
	var req BalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	userID, _ := auth.UserID(r.Context())
	p, err := h.coins.UpdateBalance(r.Context(), userID, req.Delta)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ClaimHuntingReward handles POST /api/v1/me/hunting/{challenge}
func (h *Handler) ClaimHuntingReward(w http.ResponseWriter, r *http.Request) {
	challenge, err := strconv.Atoi(chi.URLParam(r, "challenge"))
	if err != nil {
		writeError(w, "challenge must be a number", http.StatusBadRequest)
		return
	}
	userID, _ := auth.UserID(r.Context())
	p, err := h.coins.ClaimHuntingReward(r.Context(), userID, challenge)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- helpers ---

func intParam(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// writeServiceError maps a service error to its HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrAuthenticationRequired):
		writeError(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, catalog.ErrInvalidMarket), errors.Is(err, portfolio.ErrInvalidTrade):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, catalog.ErrForbidden):
		writeError(w, catalog.ErrForbidden.Error(), http.StatusForbidden)
	case errors.Is(err, model.ErrNotFound):
		writeError(w, "not found", http.StatusNotFound)
	case errors.Is(err, portfolio.ErrNothingToSell),
		errors.Is(err, portfolio.ErrMarketClosed),
		errors.Is(err, coin.ErrChallengeUnavailable),
		errors.Is(err, model.ErrDuplicate):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
