package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pasarprediksi/market-core/internal/model"
)

// MemoryStore implements Store with in-memory slices and maps. Used for
// testing and development. Not suitable for production (no persistence).
//
// Profile uniqueness is deliberately not enforced so the duplicate-row
// condition the coin ledger repairs can be reproduced.
type MemoryStore struct {
	mu           sync.RWMutex
	txMu         sync.Mutex
	profiles     []model.Profile
	markets      map[string]*model.Market
	marketOrder  []string
	positions    []model.Position
	transactions []model.Transaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets: make(map[string]*model.Market),
	}
}

// --- user_profiles ---

func (s *MemoryStore) GetProfile(_ context.Context, userID string) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *model.Profile
	for i := range s.profiles {
		if s.profiles[i].UserID != userID {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("profile for user %s: %w", userID, model.ErrMultipleRows)
		}
		p := s.profiles[i]
		found = &p
	}
	if found == nil {
		return nil, fmt.Errorf("profile for user %s: %w", userID, model.ErrNotFound)
	}
	return found, nil
}

func (s *MemoryStore) ListProfiles(_ context.Context, userID string) ([]model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Profile
	for _, p := range s.profiles {
		if p.UserID == userID {
			result = append(result, p)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) CreateProfile(_ context.Context, p *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.profiles = append(s.profiles, *p)
	return nil
}

func (s *MemoryStore) UpdateProfile(_ context.Context, userID string, upd model.ProfileUpdate) (*model.Profile, error) {
	p, _, err := s.updateProfile(userID, upd)
	return p, err
}

// updateProfile also returns the rows as they were before the write.
func (s *MemoryStore) updateProfile(userID string, upd model.ProfileUpdate) (*model.Profile, []model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev, updated []model.Profile
	for i := range s.profiles {
		p := &s.profiles[i]
		if p.UserID != userID {
			continue
		}
		prev = append(prev, *p)
		if upd.CoinBalance != nil {
			p.CoinBalance = *upd.CoinBalance
		}
		if upd.DailyHuntingAttempts != nil {
			p.DailyHuntingAttempts = *upd.DailyHuntingAttempts
		}
		if upd.LastHuntingDate != nil {
			p.LastHuntingDate = *upd.LastHuntingDate
		}
		updated = append(updated, *p)
	}

	switch len(updated) {
	case 0:
		return nil, prev, fmt.Errorf("profile for user %s: %w", userID, model.ErrNotFound)
	case 1:
		return &updated[0], prev, nil
	default:
		return nil, prev, fmt.Errorf("profile for user %s: %w", userID, model.ErrMultipleRows)
	}
}

func (s *MemoryStore) DeleteProfile(_ context.Context, id string) error {
	s.deleteProfile(id)
	return nil
}

func (s *MemoryStore) deleteProfile(id string) (model.Profile, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.profiles {
		if p.ID == id {
			s.profiles = append(s.profiles[:i], s.profiles[i+1:]...)
			return p, i, true
		}
	}
	return model.Profile{}, 0, false
}

// --- markets ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("market %s: %w", m.ID, model.ErrDuplicate)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	// Store a copy to avoid external mutation.
	cp := *m
	s.markets[m.ID] = &cp
	s.marketOrder = append(s.marketOrder, m.ID)
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", id, model.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) UpdateMarket(_ context.Context, id string, upd model.MarketUpdate) (*model.Market, error) {
	m, _, err := s.updateMarket(id, upd)
	return m, err
}

func (s *MemoryStore) updateMarket(id string, upd model.MarketUpdate) (*model.Market, model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, model.Market{}, fmt.Errorf("market %s: %w", id, model.ErrNotFound)
	}
	prev := *m
	upd.Apply(m)
	cp := *m
	return &cp, prev, nil
}

func (s *MemoryStore) DeleteMarket(_ context.Context, id string) error {
	_, _, err := s.deleteMarket(id)
	return err
}

func (s *MemoryStore) deleteMarket(id string) (model.Market, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return model.Market{}, 0, fmt.Errorf("market %s: %w", id, model.ErrNotFound)
	}
	delete(s.markets, id)
	pos := len(s.marketOrder)
	for i, mid := range s.marketOrder {
		if mid == id {
			s.marketOrder = append(s.marketOrder[:i], s.marketOrder[i+1:]...)
			pos = i
			break
		}
	}
	return *m, pos, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context, f model.MarketFilter) ([]model.Market, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(f.Search)
	matched := make([]model.Market, 0, len(s.markets))
	// Newest inserted first so equal timestamps keep a stable order.
	for i := len(s.marketOrder) - 1; i >= 0; i-- {
		m := s.markets[s.marketOrder[i]]
		if f.Category != "" && m.Category != f.Category {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(m.Title), search) {
			continue
		}
		if f.Featured != nil && m.Featured != *f.Featured {
			continue
		}
		matched = append(matched, *m)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if f.Offset >= total {
		return []model.Market{}, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], total, nil
}

// --- positions ---

func (s *MemoryStore) GetPosition(_ context.Context, userID, marketID, side string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.positions {
		if p.UserID == userID && p.MarketID == marketID && p.Side == side {
			cp := p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("position %s/%s/%s: %w", userID, marketID, side, model.ErrNotFound)
}

func (s *MemoryStore) CreatePosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.positions {
		if existing.UserID == p.UserID && existing.MarketID == p.MarketID && existing.Side == p.Side {
			return fmt.Errorf("position %s/%s/%s: %w", p.UserID, p.MarketID, p.Side, model.ErrDuplicate)
		}
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	cp := *p
	cp.Market = nil
	s.positions = append(s.positions, cp)
	return nil
}

func (s *MemoryStore) UpdatePosition(_ context.Context, id string, shares, averagePrice decimal.Decimal) error {
	_, err := s.updatePosition(id, shares, averagePrice)
	return err
}

func (s *MemoryStore) updatePosition(id string, shares, averagePrice decimal.Decimal) (model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.positions {
		if s.positions[i].ID == id {
			prev := s.positions[i]
			s.positions[i].Shares = shares
			s.positions[i].AveragePrice = averagePrice
			return prev, nil
		}
	}
	return model.Position{}, fmt.Errorf("position %s: %w", id, model.ErrNotFound)
}

func (s *MemoryStore) DeletePosition(_ context.Context, id string) error {
	_, _, err := s.deletePosition(id)
	return err
}

func (s *MemoryStore) deletePosition(id string) (model.Position, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.positions {
		if p.ID == id {
			s.positions = append(s.positions[:i], s.positions[i+1:]...)
			return p, i, nil
		}
	}
	return model.Position{}, 0, fmt.Errorf("position %s: %w", id, model.ErrNotFound)
}

func (s *MemoryStore) ListPositions(_ context.Context, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for i := len(s.positions) - 1; i >= 0; i-- {
		p := s.positions[i]
		if p.UserID != userID {
			continue
		}
		if m, ok := s.markets[p.MarketID]; ok {
			p.Market = &model.MarketSnapshot{
				Title:       m.Title,
				Category:    m.Category,
				Status:      m.Status,
				Probability: m.Probability,
				ClosingDate: m.ClosingDate,
			}
		}
		result = append(result, p)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// --- transactions ---

func (s *MemoryStore) InsertTransaction(_ context.Context, t *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	cp := *t
	cp.Market = nil
	s.transactions = append(s.transactions, cp)
	return nil
}

func (s *MemoryStore) ListTransactionsByUser(_ context.Context, userID string, since time.Time) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		t := s.transactions[i]
		if t.UserID != userID || t.CreatedAt.Before(since) {
			continue
		}
		if m, ok := s.markets[t.MarketID]; ok {
			t.Market = &model.MarketSnapshot{Title: m.Title}
		}
		result = append(result, t)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) ListTransactionsByMarket(_ context.Context, marketID string, since time.Time) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, t := range s.transactions {
		if t.MarketID == marketID && !t.CreatedAt.Before(since) {
			result = append(result, t)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// WithTx serializes units of work. Writes made through the Store handed to
// fn are journaled and undone in reverse order when fn fails; writes made by
// other callers in the meantime are kept.
func (s *MemoryStore) WithTx(_ context.Context, fn func(Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memoryTx{MemoryStore: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// memoryTx is the Store bound to one MemoryStore unit of work. Reads go
// straight to the store; every write records its inverse.
type memoryTx struct {
	*MemoryStore
	undo []func()
}

func (t *memoryTx) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *memoryTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// WithTx joins the enclosing unit of work.
func (t *memoryTx) WithTx(_ context.Context, fn func(Store) error) error {
	return fn(t)
}

func (t *memoryTx) CreateProfile(ctx context.Context, p *model.Profile) error {
	if err := t.MemoryStore.CreateProfile(ctx, p); err != nil {
		return err
	}
	id := p.ID
	t.onRollback(func() { t.deleteProfile(id) })
	return nil
}

func (t *memoryTx) UpdateProfile(_ context.Context, userID string, upd model.ProfileUpdate) (*model.Profile, error) {
	p, prev, err := t.updateProfile(userID, upd)
	if len(prev) > 0 {
		t.onRollback(func() { t.putProfiles(prev) })
	}
	return p, err
}

func (t *memoryTx) DeleteProfile(_ context.Context, id string) error {
	if p, i, ok := t.deleteProfile(id); ok {
		t.onRollback(func() {
			t.mu.Lock()
			t.profiles = insertAt(t.profiles, i, p)
			t.mu.Unlock()
		})
	}
	return nil
}

func (t *memoryTx) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := t.MemoryStore.CreateMarket(ctx, m); err != nil {
		return err
	}
	id := m.ID
	t.onRollback(func() { t.deleteMarket(id) })
	return nil
}

func (t *memoryTx) UpdateMarket(_ context.Context, id string, upd model.MarketUpdate) (*model.Market, error) {
	m, prev, err := t.updateMarket(id, upd)
	if err != nil {
		return nil, err
	}
	t.onRollback(func() {
		t.mu.Lock()
		if cur, ok := t.markets[id]; ok {
			*cur = prev
		}
		t.mu.Unlock()
	})
	return m, nil
}

func (t *memoryTx) DeleteMarket(_ context.Context, id string) error {
	m, i, err := t.deleteMarket(id)
	if err != nil {
		return err
	}
	t.onRollback(func() {
		t.mu.Lock()
		t.markets[id] = &m
		t.marketOrder = insertAt(t.marketOrder, i, id)
		t.mu.Unlock()
	})
	return nil
}

func (t *memoryTx) CreatePosition(ctx context.Context, p *model.Position) error {
	if err := t.MemoryStore.CreatePosition(ctx, p); err != nil {
		return err
	}
	id := p.ID
	t.onRollback(func() { t.deletePosition(id) })
	return nil
}

func (t *memoryTx) UpdatePosition(_ context.Context, id string, shares, averagePrice decimal.Decimal) error {
	prev, err := t.updatePosition(id, shares, averagePrice)
	if err != nil {
		return err
	}
	t.onRollback(func() { t.updatePosition(id, prev.Shares, prev.AveragePrice) })
	return nil
}

func (t *memoryTx) DeletePosition(_ context.Context, id string) error {
	p, i, err := t.deletePosition(id)
	if err != nil {
		return err
	}
	t.onRollback(func() {
		t.mu.Lock()
		t.positions = insertAt(t.positions, i, p)
		t.mu.Unlock()
	})
	return nil
}

func (t *memoryTx) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	if err := t.MemoryStore.InsertTransaction(ctx, tr); err != nil {
		return err
	}
	id := tr.ID
	t.onRollback(func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i := range t.transactions {
			if t.transactions[i].ID == id {
				t.transactions = append(t.transactions[:i], t.transactions[i+1:]...)
				return
			}
		}
	})
	return nil
}

// putProfiles overwrites rows by ID with the given values.
func (s *MemoryStore) putProfiles(rows []model.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range rows {
		for i := range s.profiles {
			if s.profiles[i].ID == row.ID {
				s.profiles[i] = row
				break
			}
		}
	}
}

func insertAt[T any](xs []T, i int, v T) []T {
	if i > len(xs) {
		i = len(xs)
	}
	xs = append(xs, v)
	copy(xs[i+1:], xs[i:])
	xs[i] = v
	return xs
}

var _ Store = (*memoryTx)(nil)
var _ Store = (*MemoryStore)(nil)
