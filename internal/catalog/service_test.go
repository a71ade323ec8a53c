package catalog_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pasarprediksi/market-core/internal/auth"
	"github.com/pasarprediksi/market-core/internal/catalog"
	"github.com/pasarprediksi/market-core/internal/model"
	"github.com/pasarprediksi/market-core/internal/store"
)

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// recorder captures catalog events.
type recorder struct{ created []model.Market }

func (r *recorder) MarketCreated(m model.Market) { r.created = append(r.created, m) }

// brokenStore fails every market listing.
type brokenStore struct {
	store.Store
}

func (brokenStore) ListMarkets(context.Context, model.MarketFilter) ([]model.Market, int, error) {
	return nil, 0, errors.New("connection reset")
}

func seed(t *testing.T, ms *store.MemoryStore, n int, category string, featured bool) {
	t.Helper()
	for i := 0; i < n; i++ {
		m := &model.Market{
			Title:     fmt.Sprintf("%s question %02d", category, i),
			Category:  category,
			Type:      model.MarketBinary,
			Status:    model.StatusActive,
			Featured:  featured,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := ms.CreateMarket(context.Background(), m); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestList_Pagination(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms, 20, "economics", false)
	seed(t, ms, 5, "sports", false)
	svc := catalog.NewService(ms, nil)

	page, err := svc.List(context.Background(), catalog.Query{Category: "economics", Page: 2, Limit: 12})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 8 {
		t.Errorf("expected 8 items, got %d", len(page.Items))
	}
	if page.TotalCount != 20 || page.TotalPages != 2 {
		t.Errorf("expected (20, 2), got (%d, %d)", page.TotalCount, page.TotalPages)
	}
	// Newest first: page 2 starts at the 13th newest, i.e. index 7.
	if page.Items[0].Title != "economics question 07" {
		t.Errorf("unexpected first item on page 2: %s", page.Items[0].Title)
	}
}

func TestList_Defaults(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms, 15, "economics", false)
	svc := catalog.NewService(ms, nil)

	page, err := svc.List(context.Background(), catalog.Query{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != catalog.DefaultLimit || page.TotalPages != 2 {
		t.Errorf("expected first page of 12 over 2 pages, got %d items, %d pages",
			len(page.Items), page.TotalPages)
	}
	if page.Items[0].Title != "economics question 14" {
		t.Errorf("expected newest first, got %s", page.Items[0].Title)
	}
}

func TestList_LargeLimit(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms, 250, "economics", false)
	svc := catalog.NewService(ms, nil)

	page, err := svc.List(context.Background(), catalog.Query{Page: 2, Limit: 200})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 50 || page.TotalPages != 2 {
		t.Errorf("expected 50 items over 2 pages, got %d items, %d pages",
			len(page.Items), page.TotalPages)
	}
	if page.Items[0].Title != "economics question 49" {
		t.Errorf("expected offset 200, got %s", page.Items[0].Title)
	}
}

func TestList_Filters(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms, 3, "economics", false)
	seed(t, ms, 2, "sports", true)
	svc := catalog.NewService(ms, nil)
	yes := true

	tests := []struct {
		name  string
		query catalog.Query
		want  int
	}{
		{"all sentinel", catalog.Query{Category: "all"}, 5},
		{"semua sentinel", catalog.Query{Category: "semua"}, 5},
		{"exact category", catalog.Query{Category: "sports"}, 2},
		{"category is case sensitive", catalog.Query{Category: "Sports"}, 0},
		{"search ignores case", catalog.Query{Search: "ECONOMICS QUESTION"}, 3},
		{"featured", catalog.Query{Featured: &yes}, 2},
		{"page past end", catalog.Query{Page: 9}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := svc.List(context.Background(), tt.query)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(page.Items) != tt.want {
				t.Errorf("expected %d items, got %d", tt.want, len(page.Items))
			}
			if page.Items == nil {
				t.Error("items should be an empty slice, not nil")
			}
		})
	}
}

func TestList_StoreFailure(t *testing.T) {
	svc := catalog.NewService(brokenStore{Store: store.NewMemoryStore()}, nil)

	if _, err := svc.List(context.Background(), catalog.Query{}); err == nil {
		t.Fatal("expected error from broken store")
	}
	if _, err := svc.ListFeatured(context.Background(), 0); err == nil {
		t.Fatal("expected error from broken store")
	}
	empty := catalog.EmptyPage()
	if len(empty.Items) != 0 || empty.Items == nil || empty.TotalCount != 0 || empty.TotalPages != 0 {
		t.Errorf("unexpected empty page: %+v", empty)
	}
}

func TestListFeatured(t *testing.T) {
	ms := store.NewMemoryStore()
	seed(t, ms, 5, "politics", true)
	seed(t, ms, 5, "sports", false)
	svc := catalog.NewService(ms, nil)

	items, err := svc.ListFeatured(context.Background(), 0)
	if err != nil {
		t.Fatalf("list featured: %v", err)
	}
	if len(items) != catalog.DefaultFeaturedLimit {
		t.Fatalf("expected %d, got %d", catalog.DefaultFeaturedLimit, len(items))
	}
	for _, m := range items {
		if !m.Featured {
			t.Errorf("non-featured market returned: %s", m.Title)
		}
	}
	if items[0].Title != "politics question 04" {
		t.Errorf("expected newest first, got %s", items[0].Title)
	}
}

func TestCreate_RequiresAuth(t *testing.T) {
	svc := catalog.NewService(store.NewMemoryStore(), nil)

	_, err := svc.Create(context.Background(), catalog.NewMarket{Title: "Q", Type: model.MarketBinary})
	if !errors.Is(err, model.ErrAuthenticationRequired) {
		t.Errorf("expected ErrAuthenticationRequired, got %v", err)
	}
}

func TestCreate_Defaults(t *testing.T) {
	ms := store.NewMemoryStore()
	rec := &recorder{}
	svc := catalog.NewService(ms, rec)
	ctx := auth.WithUser(context.Background(), "creator-1")

	tests := []struct {
		typ  string
		prob int
	}{
		{model.MarketBinary, 50},
		{model.MarketMultiple, 0},
		{model.MarketNumeric, 0},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			m, err := svc.Create(ctx, catalog.NewMarket{Title: "Will it rain?", Category: "weather", Type: tt.typ})
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if m.Probability != tt.prob {
				t.Errorf("expected probability %d, got %d", tt.prob, m.Probability)
			}
			if m.Status != model.StatusActive || m.CreatedBy != "creator-1" || m.ID == "" {
				t.Errorf("unexpected market: %+v", m)
			}
			stored, err := svc.GetByID(ctx, m.ID)
			if err != nil || stored.Title != "Will it rain?" {
				t.Errorf("market not persisted: %v, %v", stored, err)
			}
		})
	}
	if len(rec.created) != 3 {
		t.Errorf("expected 3 market_created notifications, got %d", len(rec.created))
	}
}

func TestCreate_Validation(t *testing.T) {
	svc := catalog.NewService(store.NewMemoryStore(), nil)
	ctx := auth.WithUser(context.Background(), "creator-1")
	lo, hi := d(10), d(5)

	tests := map[string]catalog.NewMarket{
		"missing title":  {Type: model.MarketBinary},
		"unknown type":   {Title: "Q", Type: "scalar"},
		"inverted range": {Title: "Q", Type: model.MarketNumeric, MinValue: &lo, MaxValue: &hi},
		"negative fee":   {Title: "Q", Type: model.MarketBinary, Fee: d(-1)},
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Create(ctx, in); !errors.Is(err, catalog.ErrInvalidMarket) {
				t.Errorf("expected ErrInvalidMarket, got %v", err)
			}
		})
	}
}

func TestUpdateAndDelete(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := catalog.NewService(ms, nil)
	ctx := auth.WithUser(context.Background(), "creator-1")

	m, err := svc.Create(ctx, catalog.NewMarket{Title: "Old", Type: model.MarketBinary})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	title, status := "New", model.StatusResolved
	updated, err := svc.Update(ctx, m.ID, model.MarketUpdate{Title: &title, Status: &status})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "New" || updated.Status != model.StatusResolved || updated.Probability != 50 {
		t.Errorf("unexpected update result: %+v", updated)
	}

	bad := "paused"
	if _, err := svc.Update(ctx, m.ID, model.MarketUpdate{Status: &bad}); !errors.Is(err, catalog.ErrInvalidMarket) {
		t.Errorf("expected ErrInvalidMarket, got %v", err)
	}

	if err := svc.Delete(ctx, m.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetByID(ctx, m.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := svc.Delete(ctx, m.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, err := svc.Update(ctx, "missing", model.MarketUpdate{Title: &title}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown market, got %v", err)
	}
}

func TestUpdateAndDelete_OwnerOnly(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := catalog.NewService(ms, nil)
	owner := auth.WithUser(context.Background(), "creator-1")
	other := auth.WithUser(context.Background(), "mallory")

	m, err := svc.Create(owner, catalog.NewMarket{Title: "Owned", Type: model.MarketBinary})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	status, probability := model.StatusCancelled, 99
	upd := model.MarketUpdate{Status: &status, Probability: &probability}
	if _, err := svc.Update(other, m.ID, upd); !errors.Is(err, catalog.ErrForbidden) {
		t.Errorf("expected ErrForbidden on update, got %v", err)
	}
	if err := svc.Delete(other, m.ID); !errors.Is(err, catalog.ErrForbidden) {
		t.Errorf("expected ErrForbidden on delete, got %v", err)
	}
	if _, err := svc.Update(context.Background(), m.ID, upd); !errors.Is(err, model.ErrAuthenticationRequired) {
		t.Errorf("expected ErrAuthenticationRequired, got %v", err)
	}
	if err := svc.Delete(context.Background(), m.ID); !errors.Is(err, model.ErrAuthenticationRequired) {
		t.Errorf("expected ErrAuthenticationRequired, got %v", err)
	}

	got, err := svc.GetByID(owner, m.ID)
	if err != nil {
		t.Fatalf("market gone after rejected delete: %v", err)
	}
	if got.Status != model.StatusActive || got.Probability != 50 {
		t.Errorf("rejected update was applied: %+v", got)
	}
}

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
