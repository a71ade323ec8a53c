package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pasarprediksi/market-core/internal/model"
	"github.com/pasarprediksi/market-core/internal/store"
)

func TestMemoryStore_ProfileMultiplicity(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	if _, err := ms.GetProfile(ctx, "u1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	t0 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	ms.CreateProfile(ctx, &model.Profile{ID: "b", UserID: "u1", CreatedAt: t0.Add(time.Second)})
	ms.CreateProfile(ctx, &model.Profile{ID: "a", UserID: "u1", CreatedAt: t0})

	if _, err := ms.GetProfile(ctx, "u1"); !errors.Is(err, model.ErrMultipleRows) {
		t.Errorf("expected ErrMultipleRows, got %v", err)
	}
	balance := int64(5)
	if _, err := ms.UpdateProfile(ctx, "u1", model.ProfileUpdate{CoinBalance: &balance}); !errors.Is(err, model.ErrMultipleRows) {
		t.Errorf("expected ErrMultipleRows on update, got %v", err)
	}

	rows, _ := ms.ListProfiles(ctx, "u1")
	if len(rows) != 2 || rows[0].ID != "a" {
		t.Fatalf("expected oldest first, got %+v", rows)
	}

	ms.DeleteProfile(ctx, "b")
	p, err := ms.GetProfile(ctx, "u1")
	if err != nil || p.ID != "a" {
		t.Errorf("expected single row a, got %v, %v", p, err)
	}
}

func TestMemoryStore_ListMarkets(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	t0 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	for i, title := range []string{"Rupiah below 16k", "Election turnout", "rupiah above 15k"} {
		ms.CreateMarket(ctx, &model.Market{
			Title:     title,
			Category:  "economics",
			Featured:  i == 1,
			CreatedAt: t0.Add(time.Duration(i) * time.Hour),
		})
	}

	items, total, err := ms.ListMarkets(ctx, model.MarketFilter{Search: "RUPIAH"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(items) != 2 || items[0].Title != "rupiah above 15k" {
		t.Errorf("expected 2 rupiah markets newest first, got %d %+v", total, items)
	}

	yes := true
	items, total, _ = ms.ListMarkets(ctx, model.MarketFilter{Featured: &yes})
	if total != 1 || items[0].Title != "Election turnout" {
		t.Errorf("unexpected featured result: %+v", items)
	}

	items, total, _ = ms.ListMarkets(ctx, model.MarketFilter{Offset: 1, Limit: 1})
	if total != 3 || len(items) != 1 || items[0].Title != "Election turnout" {
		t.Errorf("unexpected page: total=%d %+v", total, items)
	}

	items, _, _ = ms.ListMarkets(ctx, model.MarketFilter{Offset: 10, Limit: 5})
	if items == nil || len(items) != 0 {
		t.Errorf("expected empty non-nil page past the end, got %#v", items)
	}
}

func TestMemoryStore_PositionUniqueness(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	p := &model.Position{UserID: "u1", MarketID: "m1", Side: model.SideYes, Shares: decimal.NewFromInt(1)}
	if err := ms.CreatePosition(ctx, p); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := &model.Position{UserID: "u1", MarketID: "m1", Side: model.SideYes}
	if err := ms.CreatePosition(ctx, dup); !errors.Is(err, model.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
	other := &model.Position{UserID: "u1", MarketID: "m1", Side: model.SideNo}
	if err := ms.CreatePosition(ctx, other); err != nil {
		t.Errorf("opposite side should be a separate position: %v", err)
	}
}

func TestMemoryStore_WithTxRollsBack(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	ms.CreateMarket(ctx, &model.Market{ID: "m1", Title: "Before"})

	boom := errors.New("boom")
	err := ms.WithTx(ctx, func(tx store.Store) error {
		title := "During"
		if _, err := tx.UpdateMarket(ctx, "m1", model.MarketUpdate{Title: &title}); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, &model.Transaction{UserID: "u1", MarketID: "m1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	m, _ := ms.GetMarket(ctx, "m1")
	if m.Title != "Before" {
		t.Errorf("market update not rolled back: %s", m.Title)
	}
	if txs, _ := ms.ListTransactionsByUser(ctx, "u1", time.Time{}); len(txs) != 0 {
		t.Errorf("transaction not rolled back: %+v", txs)
	}

	if err := ms.WithTx(ctx, func(tx store.Store) error {
		return tx.InsertTransaction(ctx, &model.Transaction{UserID: "u1", MarketID: "m1"})
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if txs, _ := ms.ListTransactionsByUser(ctx, "u1", time.Time{}); len(txs) != 1 {
		t.Errorf("expected committed transaction, got %d", len(txs))
	}
}

func TestMemoryStore_WithTxRollbackKeepsOtherWrites(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	ms.CreateProfile(ctx, &model.Profile{ID: "pa", UserID: "alice", CoinBalance: 100})
	ms.CreateProfile(ctx, &model.Profile{ID: "pb", UserID: "bob", CoinBalance: 100})
	ms.CreateMarket(ctx, &model.Market{ID: "m1", Title: "Before"})

	boom := errors.New("boom")
	err := ms.WithTx(ctx, func(tx store.Store) error {
		spent := int64(40)
		if _, err := tx.UpdateProfile(ctx, "alice", model.ProfileUpdate{CoinBalance: &spent}); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, &model.Transaction{UserID: "alice", MarketID: "m1"}); err != nil {
			return err
		}

		// Another request writes outside the unit of work.
		done := make(chan error)
		go func() {
			balance := int64(500)
			if _, err := ms.UpdateProfile(ctx, "bob", model.ProfileUpdate{CoinBalance: &balance}); err != nil {
				done <- err
				return
			}
			if err := ms.InsertTransaction(ctx, &model.Transaction{UserID: "bob", MarketID: "m1"}); err != nil {
				done <- err
				return
			}
			done <- ms.CreateMarket(ctx, &model.Market{ID: "m2", Title: "Concurrent"})
		}()
		if err := <-done; err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if p, _ := ms.GetProfile(ctx, "alice"); p.CoinBalance != 100 {
		t.Errorf("alice balance = %d, want 100", p.CoinBalance)
	}
	if txs, _ := ms.ListTransactionsByUser(ctx, "alice", time.Time{}); len(txs) != 0 {
		t.Errorf("alice transaction not rolled back: %+v", txs)
	}
	if p, _ := ms.GetProfile(ctx, "bob"); p.CoinBalance != 500 {
		t.Errorf("bob balance = %d, want 500", p.CoinBalance)
	}
	if txs, _ := ms.ListTransactionsByUser(ctx, "bob", time.Time{}); len(txs) != 1 {
		t.Errorf("bob transaction lost: %+v", txs)
	}
	if _, err := ms.GetMarket(ctx, "m2"); err != nil {
		t.Errorf("concurrent market lost: %v", err)
	}
}

func TestMemoryStore_WithTxUndoesDeletes(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	t0 := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	ms.CreateMarket(ctx, &model.Market{ID: "m1", Title: "First", CreatedAt: t0})
	ms.CreateMarket(ctx, &model.Market{ID: "m2", Title: "Second", CreatedAt: t0.Add(time.Hour)})
	pos := &model.Position{UserID: "u1", MarketID: "m1", Side: model.SideYes, Shares: decimal.NewFromInt(5)}
	ms.CreatePosition(ctx, pos)
	ms.CreateProfile(ctx, &model.Profile{ID: "p1", UserID: "u1", CoinBalance: 7})

	boom := errors.New("boom")
	err := ms.WithTx(ctx, func(tx store.Store) error {
		if err := tx.DeleteMarket(ctx, "m1"); err != nil {
			return err
		}
		if err := tx.DeletePosition(ctx, pos.ID); err != nil {
			return err
		}
		if err := tx.DeleteProfile(ctx, "p1"); err != nil {
			return err
		}
		if err := tx.CreateProfile(ctx, &model.Profile{UserID: "u2"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	page, total, _ := ms.ListMarkets(ctx, model.MarketFilter{})
	if total != 2 || page[0].ID != "m2" || page[1].ID != "m1" {
		t.Errorf("deleted market not restored in order: %+v", page)
	}
	got, err := ms.GetPosition(ctx, "u1", "m1", model.SideYes)
	if err != nil || !got.Shares.Equal(decimal.NewFromInt(5)) {
		t.Errorf("deleted position not restored: %+v, %v", got, err)
	}
	if p, err := ms.GetProfile(ctx, "u1"); err != nil || p.CoinBalance != 7 {
		t.Errorf("deleted profile not restored: %+v, %v", p, err)
	}
	if _, err := ms.GetProfile(ctx, "u2"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("created profile not rolled back: %v", err)
	}
}
