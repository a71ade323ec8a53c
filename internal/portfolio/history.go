package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pasarprediksi/market-core/internal/auth"
	"github.com/pasarprediksi/market-core/internal/model"
)

const (
	DefaultHistoryDays = 30
	maxHistoryDays     = 365
)

var one = decimal.NewFromInt(1)

// PortfolioHistory returns one point per day for the last days days. Value
// is the caller's cumulative net coins invested (buys minus sells) at the end
// of that day; Volume is the shares traded that day.
func (s *Service) PortfolioHistory(ctx context.Context, days int) ([]model.HistoryPoint, error) {
	userID, ok := auth.UserID(ctx)
	if !ok {
		return nil, model.ErrAuthenticationRequired
	}
	days = clampDays(days)

	// Full log: the running total needs trades from before the window.
	txs, err := s.store.ListTransactionsByUser(ctx, userID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("portfolio history: %w", err)
	}

	series := newSeries(s.now(), days)
	invested := decimal.Zero
	// The log is newest first.
	for i := len(txs) - 1; i >= 0; i-- {
		t := txs[i]
		if t.Type == model.TypeSell {
			invested = invested.Sub(t.Total)
		} else {
			invested = invested.Add(t.Total)
		}
		series.record(t.CreatedAt, invested, t.Shares)
	}
	return series.points(), nil
}

// MarketHistory returns one point per day for the last days days. Value is
// the last traded YES price at the end of that day (a NO trade at p implies
// YES at 1-p), starting from the market's listed probability; Volume is the
// shares traded that day.
func (s *Service) MarketHistory(ctx context.Context, marketID string, days int) ([]model.HistoryPoint, error) {
	days = clampDays(days)

	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("market history: %w", err)
	}
	txs, err := s.store.ListTransactionsByMarket(ctx, marketID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("market history: %w", err)
	}

	series := newSeries(s.now(), days)
	series.carry = decimal.NewFromInt(int64(market.Probability)).Div(decimal.NewFromInt(100))
	for _, t := range txs {
		yes := t.Price
		if t.Side == model.SideNo {
			yes = one.Sub(t.Price)
		}
		series.record(t.CreatedAt, yes, t.Shares)
	}
	return series.points(), nil
}

func clampDays(days int) int {
	if days < 1 {
		return DefaultHistoryDays
	}
	if days > maxHistoryDays {
		return maxHistoryDays
	}
	return days
}

// series buckets observations into UTC calendar days. Each day's value is
// the last observation at or before its end, carried forward across days
// with no observations.
type series struct {
	start  time.Time
	days   int
	carry  decimal.Decimal
	values []*decimal.Decimal
	volume []decimal.Decimal
}

func newSeries(now time.Time, days int) *series {
	today := now.UTC().Truncate(24 * time.Hour)
	return &series{
		start:  today.AddDate(0, 0, -(days - 1)),
		days:   days,
		carry:  decimal.Zero,
		values: make([]*decimal.Decimal, days),
		volume: make([]decimal.Decimal, days),
	}
}

// record must be called in chronological order.
func (s *series) record(at time.Time, value, volume decimal.Decimal) {
	at = at.UTC()
	if at.Before(s.start) {
		s.carry = value
		return
	}
	i := int(at.Sub(s.start) / (24 * time.Hour))
	if i >= s.days {
		return
	}
	v := value
	s.values[i] = &v
	s.volume[i] = s.volume[i].Add(volume)
}

func (s *series) points() []model.HistoryPoint {
	out := make([]model.HistoryPoint, s.days)
	last := s.carry
	for i := range out {
		if s.values[i] != nil {
			last = *s.values[i]
		}
		out[i] = model.HistoryPoint{
			Date:   s.start.AddDate(0, 0, i).Format(model.DateLayout),
			Value:  last,
			Volume: s.volume[i],
		}
	}
	return out
}
