// Package model defines the core domain types shared across market-core.
// Share counts, prices and totals use shopspring/decimal, never float64.
// JSON field names are the persisted wire contract and must not change.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-date format of Profile.LastHuntingDate.
const DateLayout = "2006-01-02"

// Market types.
const (
	MarketBinary   = "binary"
	MarketMultiple = "multiple"
	MarketNumeric  = "numeric"
)

// Market statuses.
const (
	StatusActive    = "active"
	StatusResolved  = "resolved"
	StatusCancelled = "cancelled"
)

// Position sides.
const (
	SideYes = "yes"
	SideNo  = "no"
)

// Transaction types.
const (
	TypeBuy  = "buy"
	TypeSell = "sell"
)

// Profile is the per-user economic record: coin balance and the daily
// hunting allowance. Exactly one row per user is intended, but duplicates
// have existed historically and are repaired on read.
type Profile struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	CoinBalance          int64     `json:"coin_balance"`
	DailyHuntingAttempts int       `json:"daily_hunting_attempts"`
	LastHuntingDate      string    `json:"last_hunting_date"` // YYYY-MM-DD
	CreatedAt            time.Time `json:"created_at"`
}

// ProfileUpdate carries the columns to overwrite; nil fields are untouched.
type ProfileUpdate struct {
	CoinBalance          *int64
	DailyHuntingAttempts *int
	LastHuntingDate      *string
}

// Market is a prediction question with a tradable "yes" probability.
type Market struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	Category         string           `json:"category"`
	Type             string           `json:"type"`        // binary | multiple | numeric
	Probability      int              `json:"probability"` // 0..100, percent "yes"
	Volume           decimal.Decimal  `json:"volume"`
	Liquidity        decimal.Decimal  `json:"liquidity"`
	Fee              decimal.Decimal  `json:"fee"`
	ClosingDate      time.Time        `json:"closing_date"`
	ResolutionDate   time.Time        `json:"resolution_date"`
	ResolutionSource string           `json:"resolution_source"`
	CreatedBy        string           `json:"created_by"`
	Status           string           `json:"status"` // active | resolved | cancelled
	Featured         bool             `json:"featured"`
	IsPrivate        bool             `json:"is_private"`
	AllowComments    bool             `json:"allow_comments"`
	Options          []string         `json:"options,omitempty"`
	MinValue         *decimal.Decimal `json:"min_value,omitempty"`
	MaxValue         *decimal.Decimal `json:"max_value,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// MarketUpdate is a partial market mutation; nil fields are untouched.
type MarketUpdate struct {
	Title            *string          `json:"title,omitempty"`
	Description      *string          `json:"description,omitempty"`
	Category         *string          `json:"category,omitempty"`
	Type             *string          `json:"type,omitempty"`
	Probability      *int             `json:"probability,omitempty"`
	Liquidity        *decimal.Decimal `json:"liquidity,omitempty"`
	Fee              *decimal.Decimal `json:"fee,omitempty"`
	ClosingDate      *time.Time       `json:"closing_date,omitempty"`
	ResolutionDate   *time.Time       `json:"resolution_date,omitempty"`
	ResolutionSource *string          `json:"resolution_source,omitempty"`
	Status           *string          `json:"status,omitempty"`
	Featured         *bool            `json:"featured,omitempty"`
	IsPrivate        *bool            `json:"is_private,omitempty"`
	AllowComments    *bool            `json:"allow_comments,omitempty"`
}

// Apply copies the set fields of u onto m.
func (u MarketUpdate) Apply(m *Market) {
	if u.Title != nil {
		m.Title = *u.Title
	}
	if u.Description != nil {
		m.Description = *u.Description
	}
	if u.Category != nil {
		m.Category = *u.Category
	}
	if u.Type != nil {
		m.Type = *u.Type
	}
	if u.Probability != nil {
		m.Probability = *u.Probability
	}
	if u.Liquidity != nil {
		m.Liquidity = *u.Liquidity
	}
	if u.Fee != nil {
		m.Fee = *u.Fee
	}
	if u.ClosingDate != nil {
		m.ClosingDate = *u.ClosingDate
	}
	if u.ResolutionDate != nil {
		m.ResolutionDate = *u.ResolutionDate
	}
	if u.ResolutionSource != nil {
		m.ResolutionSource = *u.ResolutionSource
	}
	if u.Status != nil {
		m.Status = *u.Status
	}
	if u.Featured != nil {
		m.Featured = *u.Featured
	}
	if u.IsPrivate != nil {
		m.IsPrivate = *u.IsPrivate
	}
	if u.AllowComments != nil {
		m.AllowComments = *u.AllowComments
	}
}

// MarketFilter selects a page of markets. Empty Category/Search and nil
// Featured mean "no filter".
type MarketFilter struct {
	Category string
	Search   string
	Featured *bool
	Offset   int
	Limit    int
}

// MarketSnapshot is the descriptive subset of a market joined onto
// positions and transactions.
type MarketSnapshot struct {
	Title       string    `json:"title"`
	Category    string    `json:"category,omitempty"`
	Status      string    `json:"status,omitempty"`
	Probability int       `json:"probability,omitempty"`
	ClosingDate time.Time `json:"closing_date,omitempty"`
}

// Position is a user's holding of one side of one market.
// A position with shares <= 0 is never persisted.
type Position struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	MarketID         string          `json:"market_id"`
	Side             string          `json:"position"` // yes | no
	Shares           decimal.Decimal `json:"shares"`
	AveragePrice     decimal.Decimal `json:"average_price"` // [0,1]
	CurrentValue     decimal.Decimal `json:"current_value"`
	Profit           decimal.Decimal `json:"profit"`
	ProfitPercentage decimal.Decimal `json:"profit_percentage"`
	CreatedAt        time.Time       `json:"created_at"`
	Market           *MarketSnapshot `json:"market,omitempty"`
}

// Transaction is an immutable record of a single buy or sell.
// Once created, it is never modified or deleted.
type Transaction struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	MarketID  string          `json:"market_id"`
	Type      string          `json:"type"`     // buy | sell
	Side      string          `json:"position"` // yes | no
	Shares    decimal.Decimal `json:"shares"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"` // shares * price
	CreatedAt time.Time       `json:"created_at"`
	Market    *MarketSnapshot `json:"market,omitempty"`
}

// HistoryPoint is one day of an aggregated time series.
type HistoryPoint struct {
	Date   string          `json:"date"` // YYYY-MM-DD
	Value  decimal.Decimal `json:"value"`
	Volume decimal.Decimal `json:"volume"`
}
