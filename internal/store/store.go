// Package store is the persistence gateway for market-core.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (tests and the no-database fallback).
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pasarprediksi/market-core/internal/model"
)

// Store is the table-level persistence interface. Services hold no durable
// state: every call reads current truth and writes back a delta.
type Store interface {
	// --- user_profiles ---

	// GetProfile returns the single profile for userID. It returns
	// model.ErrNotFound when none exists and model.ErrMultipleRows when
	// more than one row matches.
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)

	// ListProfiles returns every profile row for userID, oldest first.
	ListProfiles(ctx context.Context, userID string) ([]model.Profile, error)

	// CreateProfile inserts p. A uniqueness violation is model.ErrDuplicate.
	CreateProfile(ctx context.Context, p *model.Profile) error

	// UpdateProfile overwrites the set columns of userID's profile and
	// returns the updated row.
	UpdateProfile(ctx context.Context, userID string, upd model.ProfileUpdate) (*model.Profile, error)

	// DeleteProfile removes one profile row by its row ID.
	DeleteProfile(ctx context.Context, id string) error

	// --- markets ---

	CreateMarket(ctx context.Context, m *model.Market) error
	GetMarket(ctx context.Context, id string) (*model.Market, error)
	UpdateMarket(ctx context.Context, id string, upd model.MarketUpdate) (*model.Market, error)
	DeleteMarket(ctx context.Context, id string) error

	// ListMarkets returns one page of markets, newest first, together with
	// the total number of rows matching the filter.
	ListMarkets(ctx context.Context, f model.MarketFilter) ([]model.Market, int, error)

	// --- positions ---

	// GetPosition returns the position for (user, market, side) or
	// model.ErrNotFound.
	GetPosition(ctx context.Context, userID, marketID, side string) (*model.Position, error)
	CreatePosition(ctx context.Context, p *model.Position) error
	UpdatePosition(ctx context.Context, id string, shares, averagePrice decimal.Decimal) error
	DeletePosition(ctx context.Context, id string) error

	// ListPositions returns the user's positions, newest first, each joined
	// with a snapshot of its market.
	ListPositions(ctx context.Context, userID string) ([]model.Position, error)

	// --- transactions (append-only) ---

	InsertTransaction(ctx context.Context, t *model.Transaction) error

	// ListTransactionsByUser returns the user's transactions created at or
	// after since, newest first, joined with the market title.
	ListTransactionsByUser(ctx context.Context, userID string, since time.Time) ([]model.Transaction, error)

	// ListTransactionsByMarket returns a market's transactions created at or
	// after since, oldest first.
	ListTransactionsByMarket(ctx context.Context, marketID string, since time.Time) ([]model.Transaction, error)

	// WithTx runs fn against a Store bound to a single unit of work. If fn
	// returns an error nothing it wrote is kept.
	WithTx(ctx context.Context, fn func(Store) error) error
}
