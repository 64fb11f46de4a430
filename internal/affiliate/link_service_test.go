package affiliate

import (
	"context"
	"errors"
	"testing"

	"github.com/radiusdt/affiliate-ledger/internal/models"
	"github.com/radiusdt/affiliate-ledger/internal/storage"
)

func TestCreateLink(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	l := h.link(t, "aff1", "spring")
	if l.Code != "spring" || l.Clicks != 0 || l.Conversions != 0 {
		t.Fatalf("unexpected link %+v", l)
	}

	if _, err := h.Links.CreateLink(ctx, "aff2", "/p/2", "spring"); !errors.Is(err, ErrDuplicateCode) {
		t.Fatalf("duplicate code: got %v", err)
	}

	gen, err := h.Links.CreateLink(ctx, "aff1", "/p/3", "")
	if err != nil {
		t.Fatalf("generated code: %v", err)
	}
	if !codePattern.MatchString(gen.Code) {
		t.Fatalf("generated code %q does not match pattern", gen.Code)
	}

	bad := []struct{ url, code string }{
		{"", "okay"},
		{"javascript:alert(1)", "okay"},
		{"//evil.example/x", "okay"},
		{"/p/1", "a"},
		{"/p/1", "has space"},
	}
	for _, b := range bad {
		if _, err := h.Links.CreateLink(ctx, "aff1", b.url, b.code); !IsValidation(err) {
			t.Fatalf("CreateLink(%q, %q): expected validation error, got %v", b.url, b.code, err)
		}
	}
}

func TestGetLinkByCodeUsesCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.link(t, "aff1", "cached")

	got, err := h.Links.GetLinkByCode(ctx, "cached")
	if err != nil || got == nil || got.ID != l.ID {
		t.Fatalf("GetLinkByCode = %+v, %v", got, err)
	}
	got.URL = "mutated"
	again, _ := h.Links.GetLinkByCode(ctx, "cached")
	if again.URL == "mutated" {
		t.Fatal("cached link shares memory with callers")
	}

	if err := h.Links.DeleteLink(ctx, "aff1", l.ID); err != nil {
		t.Fatalf("DeleteLink: %v", err)
	}
	if got, _ := h.Links.GetLinkByCode(ctx, "cached"); got != nil {
		t.Fatalf("deleted link still served from cache: %+v", got)
	}
}

func TestDeleteLinkOwnership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.link(t, "aff1", "owned")
	clickID := h.click(t, "aff1", l.ID)
	h.settle()

	if err := h.Links.DeleteLink(ctx, "aff2", l.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign delete: got %v", err)
	}
	if err := h.Links.DeleteLink(ctx, "aff1", "lnk_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing link: got %v", err)
	}
	if err := h.Links.DeleteLink(ctx, "aff1", l.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if got, _ := h.Links.GetLink(ctx, l.ID); got != nil {
		t.Fatal("link still present after delete")
	}
	if c, _ := h.Clicks.GetClick(ctx, clickID); c == nil {
		t.Fatal("clicks of a deleted link must be kept")
	}
}

func TestListLinksOldestFirst(t *testing.T) {
	h := newHarness(t)
	a := h.link(t, "aff1", "first")
	h.clock.Advance(1)
	b := h.link(t, "aff1", "second")
	h.link(t, "aff2", "other")

	links, err := h.Links.ListLinks(context.Background(), "aff1")
	if err != nil {
		t.Fatalf("ListLinks: %v", err)
	}
	if len(links) != 2 || links[0].ID != a.ID || links[1].ID != b.ID {
		t.Fatalf("unexpected order: %+v", links)
	}
}

func TestReconcileLinkRestoresCounters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.link(t, "aff1", "drift")
	id := h.click(t, "aff1", l.ID)
	h.click(t, "aff1", l.ID)
	h.settle()
	_, _ = h.Clicks.RecordConversion(ctx, id, 5)

	// Simulate a lost counter update.
	_ = h.store.Update(ctx, func(r *storage.Repos) error {
		stale := *l
		stale.Clicks, stale.Conversions = 0, 0
		return r.PutLink(ctx, &stale)
	})

	got, err := h.Links.ReconcileLink(ctx, l.ID)
	if err != nil {
		t.Fatalf("ReconcileLink: %v", err)
	}
	if got.Clicks != 2 || got.Conversions != 1 {
		t.Fatalf("reconciled counters = %d/%d, want 2/1", got.Clicks, got.Conversions)
	}
	if _, err := h.Links.ReconcileLink(ctx, "lnk_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing link: got %v", err)
	}
}

func TestUpsertAffiliate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.affiliate(t, "aff1", "alice", 10)
	created := first.CreatedAt

	h.clock.Advance(1)
	again, err := h.Affiliates.UpsertAffiliate(ctx, &models.Affiliate{ID: "aff1", Code: "alice2", CommissionRate: 12})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !again.CreatedAt.Equal(created) || again.Status != models.AffiliateStatusActive {
		t.Fatalf("unexpected update result %+v", again)
	}

	if _, err := h.Affiliates.UpsertAffiliate(ctx, &models.Affiliate{ID: "aff2", Code: "alice2", CommissionRate: 5}); !errors.Is(err, ErrDuplicateCode) {
		t.Fatalf("duplicate code: got %v", err)
	}
	if _, err := h.Affiliates.UpsertAffiliate(ctx, &models.Affiliate{ID: "aff3", Code: "carol", CommissionRate: 150}); !IsValidation(err) {
		t.Fatalf("rate out of range: got %v", err)
	}
}
