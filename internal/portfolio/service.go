// Package portfolio maintains per-user positions and the append-only
// transaction log.
//
// A position is keyed by (user, market, side). Buys recompute the weighted
// average entry price; sells leave it unchanged. A position whose share
// count reaches zero or below is deleted, never stored.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pasarprediksi/market-core/internal/auth"
	"github.com/pasarprediksi/market-core/internal/metrics"
	"github.com/pasarprediksi/market-core/internal/model"
	"github.com/pasarprediksi/market-core/internal/store"
)

var (
	ErrInvalidTrade  = errors.New("invalid trade")
	ErrNothingToSell = errors.New("no position to sell")
	ErrMarketClosed  = errors.New("market is not open for trading")
)

// Trade is a request to buy or sell shares of one side of a market.
type Trade struct {
	MarketID string          `json:"market_id"`
	Side     string          `json:"position"` // yes | no
	Type     string          `json:"type"`     // buy | sell
	Shares   decimal.Decimal `json:"shares"`
	Price    decimal.Decimal `json:"price"` // [0,1]
}

// Notifier is told about every committed transaction. pos is the position
// after the trade, or nil when the trade closed it.
type Notifier interface {
	TransactionExecuted(tx model.Transaction, pos *model.Position)
}

// Service executes trades and reports holdings.
type Service struct {
	store    store.Store
	notifier Notifier
	now      func() time.Time
}

// NewService creates a portfolio service. notifier may be nil.
func NewService(st store.Store, notifier Notifier) *Service {
	return &Service{
		store:    st,
		notifier: notifier,
		now:      time.Now,
	}
}

// Positions returns the caller's open positions, newest first.
func (s *Service) Positions(ctx context.Context) ([]model.Position, error) {
	userID, ok := auth.UserID(ctx)
	if !ok {
		return nil, model.ErrAuthenticationRequired
	}
	positions, err := s.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	return positions, nil
}

// Transactions returns the caller's transaction log, newest first.
func (s *Service) Transactions(ctx context.Context) ([]model.Transaction, error) {
	userID, ok := auth.UserID(ctx)
	if !ok {
		return nil, model.ErrAuthenticationRequired
	}
	txs, err := s.store.ListTransactionsByUser(ctx, userID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// ExecuteTransaction records a trade in the ledger and applies it to the
// caller's position. The ledger row and the position change commit together;
// if either write fails neither is kept.
func (s *Service) ExecuteTransaction(ctx context.Context, t Trade) (*model.Transaction, error) {
	userID, ok := auth.UserID(ctx)
	if !ok {
		return nil, model.ErrAuthenticationRequired
	}
	if err := validate(t); err != nil {
		metrics.TransactionRejections.WithLabelValues("invalid").Inc()
		return nil, err
	}

	start := time.Now()
	var (
		record *model.Transaction
		after  *model.Position
	)
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		market, err := tx.GetMarket(ctx, t.MarketID)
		if err != nil {
			return fmt.Errorf("load market: %w", err)
		}
		if market.Status != model.StatusActive {
			return fmt.Errorf("%w: status %s", ErrMarketClosed, market.Status)
		}

		record = &model.Transaction{
			UserID:    userID,
			MarketID:  t.MarketID,
			Type:      t.Type,
			Side:      t.Side,
			Shares:    t.Shares,
			Price:     t.Price,
			Total:     t.Shares.Mul(t.Price),
			CreatedAt: s.now().UTC(),
		}
		if err := tx.InsertTransaction(ctx, record); err != nil {
			return fmt.Errorf("record transaction: %w", err)
		}

		after, err = applyToPosition(ctx, tx, record)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNothingToSell) || errors.Is(err, ErrMarketClosed) || errors.Is(err, model.ErrNotFound) {
			metrics.TransactionRejections.WithLabelValues(rejectReason(err)).Inc()
		}
		return nil, err
	}

	metrics.TransactionsTotal.WithLabelValues(record.Type, record.Side).Inc()
	metrics.TransactionLatency.WithLabelValues(record.Type).Observe(time.Since(start).Seconds())
	slog.Info("transaction executed",
		"id", record.ID,
		"user", userID,
		"market", record.MarketID,
		"type", record.Type,
		"side", record.Side,
		"shares", record.Shares.String(),
		"price", record.Price.String(),
		"total", record.Total.String(),
	)
	if s.notifier != nil {
		s.notifier.TransactionExecuted(*record, after)
	}
	return record, nil
}

// applyToPosition folds tx into the (user, market, side) position and
// returns the resulting position, or nil if it was closed.
func applyToPosition(ctx context.Context, st store.Store, tx *model.Transaction) (*model.Position, error) {
	pos, err := st.GetPosition(ctx, tx.UserID, tx.MarketID, tx.Side)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("load position: %w", err)
	}

	if pos == nil {
		if tx.Type == model.TypeSell {
			return nil, fmt.Errorf("%w: market %s side %s", ErrNothingToSell, tx.MarketID, tx.Side)
		}
		pos = &model.Position{
			UserID:           tx.UserID,
			MarketID:         tx.MarketID,
			Side:             tx.Side,
			Shares:           tx.Shares,
			AveragePrice:     tx.Price,
			CurrentValue:     tx.Price.Mul(tx.Shares),
			Profit:           decimal.Zero,
			ProfitPercentage: decimal.Zero,
			CreatedAt:        tx.CreatedAt,
		}
		if err := st.CreatePosition(ctx, pos); err != nil {
			return nil, fmt.Errorf("open position: %w", err)
		}
		return pos, nil
	}

	shares := pos.Shares.Add(tx.Shares)
	if tx.Type == model.TypeSell {
		shares = pos.Shares.Sub(tx.Shares)
	}

	if !shares.IsPositive() {
		if err := st.DeletePosition(ctx, pos.ID); err != nil {
			return nil, fmt.Errorf("close position: %w", err)
		}
		return nil, nil
	}

	avg := pos.AveragePrice
	if tx.Type == model.TypeBuy {
		avg = WeightedAveragePrice(pos.Shares, pos.AveragePrice, tx.Shares, tx.Price)
	}
	if err := st.UpdatePosition(ctx, pos.ID, shares, avg); err != nil {
		return nil, fmt.Errorf("update position: %w", err)
	}
	pos.Shares = shares
	pos.AveragePrice = avg
	return pos, nil
}

// WeightedAveragePrice is the cost basis after buying addShares at addPrice
// on top of heldShares bought at heldPrice.
func WeightedAveragePrice(heldShares, heldPrice, addShares, addPrice decimal.Decimal) decimal.Decimal {
	total := heldShares.Add(addShares)
	if total.IsZero() {
		return decimal.Zero
	}
	cost := heldShares.Mul(heldPrice).Add(addShares.Mul(addPrice))
	return cost.Div(total)
}

func validate(t Trade) error {
	if t.MarketID == "" {
		return fmt.Errorf("%w: market_id is required", ErrInvalidTrade)
	}
	if t.Side != model.SideYes && t.Side != model.SideNo {
		return fmt.Errorf("%w: position must be yes or no", ErrInvalidTrade)
	}
	if t.Type != model.TypeBuy && t.Type != model.TypeSell {
		return fmt.Errorf("%w: type must be buy or sell", ErrInvalidTrade)
	}
	if !t.Shares.IsPositive() {
		return fmt.Errorf("%w: shares must be positive", ErrInvalidTrade)
	}
	if t.Price.IsNegative() || t.Price.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: price must be within [0, 1]", ErrInvalidTrade)
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrNothingToSell):
		return "nothing_to_sell"
	case errors.Is(err, ErrMarketClosed):
		return "market_closed"
	default:
		return "unknown_market"
	}
}
