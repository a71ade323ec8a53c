// Package catalog manages the market catalog: listing with filters and
// pagination, lookup, and owner-level create/update/delete.
//
// Reads return their errors; callers that prefer an empty result on failure
// use EmptyPage or a nil slice themselves.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pasarprediksi/market-core/internal/auth"
	"github.com/pasarprediksi/market-core/internal/metrics"
	"github.com/pasarprediksi/market-core/internal/model"
	"github.com/pasarprediksi/market-core/internal/store"
)

const (
	DefaultPage          = 1
	DefaultLimit         = 12
	DefaultFeaturedLimit = 3
)

var (
	ErrInvalidMarket = errors.New("invalid market")
	ErrForbidden     = errors.New("market belongs to another user")
)

// allCategories are the category values that mean "no filter".
var allCategories = map[string]bool{"": true, "all": true, "semua": true}

// Query selects a page of the catalog.
type Query struct {
	Category string
	Page     int
	Limit    int
	Search   string
	Featured *bool
}

// Page is one page of markets.
type Page struct {
	Items      []model.Market `json:"items"`
	TotalCount int            `json:"totalCount"`
	TotalPages int            `json:"totalPages"`
}

// EmptyPage is the result shown when the catalog cannot be read.
func EmptyPage() Page {
	return Page{Items: []model.Market{}}
}

// NewMarket is the caller-supplied part of a market.
type NewMarket struct {
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	Category         string           `json:"category"`
	Type             string           `json:"type"`
	Liquidity        decimal.Decimal  `json:"liquidity"`
	Fee              decimal.Decimal  `json:"fee"`
	ClosingDate      time.Time        `json:"closing_date"`
	ResolutionDate   time.Time        `json:"resolution_date"`
	ResolutionSource string           `json:"resolution_source"`
	Featured         bool             `json:"featured"`
	IsPrivate        bool             `json:"is_private"`
	AllowComments    bool             `json:"allow_comments"`
	Options          []string         `json:"options,omitempty"`
	MinValue         *decimal.Decimal `json:"min_value,omitempty"`
	MaxValue         *decimal.Decimal `json:"max_value,omitempty"`
}

// Notifier receives catalog events. The websocket hub implements it.
type Notifier interface {
	MarketCreated(m model.Market)
}

// Service is the market catalog.
type Service struct {
	store    store.Store
	notifier Notifier
}

// NewService creates a catalog over st. notifier may be nil.
func NewService(st store.Store, notifier Notifier) *Service {
	return &Service{store: st, notifier: notifier}
}

// List returns one page of markets, newest first.
func (s *Service) List(ctx context.Context, q Query) (Page, error) {
	if q.Page < 1 {
		q.Page = DefaultPage
	}
	if q.Limit < 1 {
		q.Limit = DefaultLimit
	}

	f := model.MarketFilter{
		Search:   strings.TrimSpace(q.Search),
		Featured: q.Featured,
		Offset:   (q.Page - 1) * q.Limit,
		Limit:    q.Limit,
	}
	if !allCategories[strings.ToLower(q.Category)] {
		f.Category = q.Category
	}

	items, total, err := s.store.ListMarkets(ctx, f)
	if err != nil {
		return Page{}, fmt.Errorf("list markets: %w", err)
	}
	if items == nil {
		items = []model.Market{}
	}
	return Page{
		Items:      items,
		TotalCount: total,
		TotalPages: (total + q.Limit - 1) / q.Limit,
	}, nil
}

// ListFeatured returns up to limit featured markets, newest first.
func (s *Service) ListFeatured(ctx context.Context, limit int) ([]model.Market, error) {
	if limit < 1 {
		limit = DefaultFeaturedLimit
	}
	featured := true
	items, _, err := s.store.ListMarkets(ctx, model.MarketFilter{Featured: &featured, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list featured markets: %w", err)
	}
	return items, nil
}

// GetByID returns the market with id. A missing market is model.ErrNotFound.
func (s *Service) GetByID(ctx context.Context, id string) (*model.Market, error) {
	m, err := s.store.GetMarket(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get market: %w", err)
	}
	return m, nil
}

// Create stores a new market owned by the authenticated caller. Binary
// markets open at 50% probability, all others at 0.
func (s *Service) Create(ctx context.Context, in NewMarket) (*model.Market, error) {
	userID, ok := auth.UserID(ctx)
	if !ok {
		return nil, model.ErrAuthenticationRequired
	}
	if err := validate(in); err != nil {
		return nil, err
	}

	probability := 0
	if in.Type == model.MarketBinary {
		probability = 50
	}

	m := &model.Market{
		Title:            strings.TrimSpace(in.Title),
		Description:      in.Description,
		Category:         in.Category,
		Type:             in.Type,
		Probability:      probability,
		Volume:           decimal.Zero,
		Liquidity:        in.Liquidity,
		Fee:              in.Fee,
		ClosingDate:      in.ClosingDate,
		ResolutionDate:   in.ResolutionDate,
		ResolutionSource: in.ResolutionSource,
		CreatedBy:        userID,
		Status:           model.StatusActive,
		Featured:         in.Featured,
		IsPrivate:        in.IsPrivate,
		AllowComments:    in.AllowComments,
		Options:          in.Options,
		MinValue:         in.MinValue,
		MaxValue:         in.MaxValue,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.CreateMarket(ctx, m); err != nil {
		return nil, fmt.Errorf("create market: %w", err)
	}

	metrics.MarketsCreated.WithLabelValues(m.Type).Inc()
	slog.Info("market created",
		"id", m.ID,
		"type", m.Type,
		"category", m.Category,
		"created_by", userID,
	)
	if s.notifier != nil {
		s.notifier.MarketCreated(*m)
	}
	return m, nil
}

// Update applies a partial change to a market owned by the caller.
func (s *Service) Update(ctx context.Context, id string, upd model.MarketUpdate) (*model.Market, error) {
	if upd.Type != nil && !validType(*upd.Type) {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidMarket, *upd.Type)
	}
	if upd.Status != nil && !validStatus(*upd.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidMarket, *upd.Status)
	}
	if upd.Probability != nil && (*upd.Probability < 0 || *upd.Probability > 100) {
		return nil, fmt.Errorf("%w: probability must be within 0..100", ErrInvalidMarket)
	}

	if err := s.authorizeOwner(ctx, id); err != nil {
		return nil, fmt.Errorf("update market: %w", err)
	}
	m, err := s.store.UpdateMarket(ctx, id, upd)
	if err != nil {
		return nil, fmt.Errorf("update market: %w", err)
	}
	slog.Info("market updated", "id", id)
	return m, nil
}

// Delete removes a market owned by the caller.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.authorizeOwner(ctx, id); err != nil {
		return fmt.Errorf("delete market: %w", err)
	}
	if err := s.store.DeleteMarket(ctx, id); err != nil {
		return fmt.Errorf("delete market: %w", err)
	}
	slog.Info("market deleted", "id", id)
	return nil
}

// authorizeOwner checks that the caller created market id.
func (s *Service) authorizeOwner(ctx context.Context, id string) error {
	userID, ok := auth.UserID(ctx)
	if !ok {
		return model.ErrAuthenticationRequired
	}
	m, err := s.store.GetMarket(ctx, id)
	if err != nil {
		return err
	}
	if m.CreatedBy != userID {
		return fmt.Errorf("%w: %s", ErrForbidden, id)
	}
	return nil
}

func validate(in NewMarket) error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidMarket)
	}
	if !validType(in.Type) {
		return fmt.Errorf("%w: type must be binary, multiple or numeric", ErrInvalidMarket)
	}
	if in.Type == model.MarketNumeric && in.MinValue != nil && in.MaxValue != nil &&
		in.MinValue.GreaterThan(*in.MaxValue) {
		return fmt.Errorf("%w: min_value exceeds max_value", ErrInvalidMarket)
	}
	if in.Liquidity.IsNegative() || in.Fee.IsNegative() {
		return fmt.Errorf("%w: liquidity and fee must not be negative", ErrInvalidMarket)
	}
	return nil
}

func validType(t string) bool {
	switch t {
	case model.MarketBinary, model.MarketMultiple, model.MarketNumeric:
		return true
	}
	return false
}

func validStatus(s string) bool {
	switch s {
	case model.StatusActive, model.StatusResolved, model.StatusCancelled:
		return true
	}
	return false
}
