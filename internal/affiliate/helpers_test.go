package affiliate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/radiusdt/affiliate-ledger/internal/models"
	"github.com/radiusdt/affiliate-ledger/internal/storage"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	*Services
	store *storage.Store
	clock *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	store := storage.NewStore(storage.NewMemoryStore(), nil)
	svc := NewServices(Deps{Store: store, Now: clock.Now})
	t.Cleanup(func() { _ = svc.Close() })
	return &harness{Services: svc, store: store, clock: clock}
}

func (h *harness) affiliate(t *testing.T, id, code string, rate float64) *models.Affiliate {
	t.Helper()
	a, err := h.Affiliates.UpsertAffiliate(context.Background(), &models.Affiliate{ID: id, Code: code, CommissionRate: rate})
	if err != nil {
		t.Fatalf("upsert affiliate: %v", err)
	}
	return a
}

func (h *harness) link(t *testing.T, affiliateID, code string) *models.AffiliateLink {
	t.Helper()
	l, err := h.Links.CreateLink(context.Background(), affiliateID, "https://shop.example/p/1", code)
	if err != nil {
		t.Fatalf("create link: %v", err)
	}
	return l
}

func (h *harness) click(t *testing.T, affiliateID, linkID string) string {
	t.Helper()
	id, err := h.Clicks.RecordClick(context.Background(), ClickInput{AffiliateID: affiliateID, LinkID: linkID})
	if err != nil {
		t.Fatalf("record click: %v", err)
	}
	return id
}

func (h *harness) rule(t *testing.T, in RuleInput) *models.CommissionRule {
	t.Helper()
	r, err := h.Rules.CreateRule(context.Background(), in)
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return r
}

// settle waits for asynchronous counter updates.
func (h *harness) settle() {
	h.Clicks.Close()
}

func ptr(v float64) *float64 { return &v }
