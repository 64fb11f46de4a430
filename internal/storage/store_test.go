package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/radiusdt/affiliate-ledger/internal/models"
)

func testClick(id, affiliateID, linkID string) *models.ClickRecord {
	return &models.ClickRecord{
		ID:          id,
		AffiliateID: affiliateID,
		LinkID:      linkID,
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.json")

	fs, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	store := NewStore(fs, nil)
	err = store.Update(ctx, func(r *Repos) error {
		if err := r.PutClick(ctx, testClick("clk_1", "aff_1", "lnk_1")); err != nil {
			return err
		}
		return r.PutLink(ctx, &models.AffiliateLink{ID: "lnk_1", AffiliateID: "aff_1", Code: "abc", URL: "/p", Clicks: 1})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	fs2, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	store2 := NewStore(fs2, nil)
	err = store2.View(ctx, func(r *Repos) error {
		c, err := r.GetClick(ctx, "clk_1")
		if err != nil {
			return err
		}
		if c == nil || c.AffiliateID != "aff_1" {
			t.Fatalf("expected click after reopen, got %+v", c)
		}
		l, err := r.GetLinkByCode(ctx, "abc")
		if err != nil {
			return err
		}
		if l == nil || l.ID != "lnk_1" || l.Clicks != 1 {
			t.Fatalf("expected link after reopen, got %+v", l)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestUpdateDiscardsWritesOnError(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryStore(), nil)
	boom := errors.New("boom")

	err := store.Update(ctx, func(r *Repos) error {
		if err := r.PutClick(ctx, testClick("clk_1", "aff_1", "lnk_1")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	_ = store.View(ctx, func(r *Repos) error {
		c, _ := r.GetClick(ctx, "clk_1")
		if c != nil {
			t.Fatalf("write leaked from failed update: %+v", c)
		}
		return nil
	})
}

func TestViewSnapshotIsStable(t *testing.T) {
	ctx := context.Background()
	fs := NewMemoryStore()
	store := NewStore(fs, nil)
	_ = store.Update(ctx, func(r *Repos) error {
		return r.PutClick(ctx, testClick("clk_1", "aff_1", "lnk_1"))
	})

	err := store.View(ctx, func(r *Repos) error {
		if err := store.Update(ctx, func(w *Repos) error {
			return w.PutClick(ctx, testClick("clk_2", "aff_1", "lnk_1"))
		}); err != nil {
			t.Fatalf("concurrent update: %v", err)
		}
		clicks, err := r.ListClicks(ctx, "aff_1")
		if err != nil {
			return err
		}
		if len(clicks) != 1 {
			t.Fatalf("snapshot saw %d clicks, want 1", len(clicks))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestMalformedRecordsAreSkipped(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.json")
	raw := `{"version":1,"collections":{"clicks":{
		"clk_1":{"owner":"aff_1","ref":"lnk_1","body":{"id":"clk_1","affiliateId":"aff_1","linkId":"lnk_1","timestamp":"2026-03-01T12:00:00Z","converted":false}},
		"clk_2":{"owner":"aff_1","ref":"lnk_1","body":{"id":"clk_2","affiliateId":"aff_1","timestamp":"2026-03-01T12:00:00Z","converted":true}},
		"clk_3":{"owner":"aff_1","ref":"lnk_1","body":"not an object"}
	}}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	fs, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	store := NewStore(fs, nil)
	_ = store.View(ctx, func(r *Repos) error {
		clicks, err := r.ListClicks(ctx, "aff_1")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(clicks) != 1 || clicks[0].ID != "clk_1" {
			t.Fatalf("expected only the valid click, got %d", len(clicks))
		}
		c, err := r.GetClick(ctx, "clk_2")
		if err != nil || c != nil {
			t.Fatalf("invalid record should read as absent, got %+v, %v", c, err)
		}
		return nil
	})
}

func TestRefusesToStoreInvalidRecord(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryStore(), nil)
	err := store.Update(ctx, func(r *Repos) error {
		return r.PutClick(ctx, &models.ClickRecord{ID: "clk_1"})
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestAdjustmentsAreAppendOnly(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryStore(), nil)
	adj := &models.CommissionAdjustment{
		ID: "adj_1", AffiliateID: "aff_1", OrderID: "ord_1",
		OriginalCommission: 10, AdjustedCommission: 5, Reason: "refund", CreatedAt: time.Now(),
	}
	if err := store.Update(ctx, func(r *Repos) error { return r.AppendAdjustment(ctx, adj) }); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Update(ctx, func(r *Repos) error { return r.AppendAdjustment(ctx, adj) }); err == nil {
		t.Fatal("expected duplicate adjustment id to be rejected")
	}
}

func TestClosedStoreRejectsCalls(t *testing.T) {
	fs := NewMemoryStore()
	_ = fs.Close()
	err := fs.Update(context.Background(), func(Tx) error { return nil })
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
