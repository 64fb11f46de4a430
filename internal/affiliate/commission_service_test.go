package affiliate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/radiusdt/affiliate-ledger/internal/models"
)

func TestClickToCommissionScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.affiliate(t, "aff1", "alice", 5)
	link := h.link(t, "aff1", "link1")
	h.rule(t, RuleInput{Name: "ten percent", Type: models.RuleTypePercentage, Value: 10})

	clickID := h.click(t, "aff1", link.ID)
	h.settle()

	out, err := h.Commissions.CompleteOrder(ctx, OrderEvent{
		OrderID:    "order-1",
		OrderValue: 100,
		Source:     SourceFromCookieHeader("affiliate_id=aff1; affiliate_ref=alice; affiliate_click=" + clickID),
	})
	if err != nil {
		t.Fatalf("CompleteOrder: %v", err)
	}
	if !out.Attributed || out.Commission == nil {
		t.Fatalf("expected attributed order, got %+v", out)
	}
	if out.Commission.Commission != 10 {
		t.Fatalf("commission = %v, want 10.00", out.Commission.Commission)
	}
	if out.Commission.ClickID != clickID || out.Commission.LinkID != link.ID {
		t.Fatalf("credited click/link = %s/%s", out.Commission.ClickID, out.Commission.LinkID)
	}

	click, _ := h.Clicks.GetClick(ctx, clickID)
	if !click.Converted || click.Value() != 100 {
		t.Fatalf("click not converted with value 100: %+v", click)
	}

	replay, err := h.Commissions.CompleteOrder(ctx, OrderEvent{OrderID: "order-1", OrderValue: 999})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.Replayed || replay.Commission.Commission != 10 {
		t.Fatalf("replay should return the original record, got %+v", replay)
	}
	got, _ := h.Links.GetLink(ctx, link.ID)
	if got.Conversions != 1 {
		t.Fatalf("replay counted a second conversion: %d", got.Conversions)
	}
}

func TestCompleteOrderFallsBackToLatestClick(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.affiliate(t, "aff1", "alice", 8)
	h.click(t, "aff1", "")
	h.clock.Advance(time.Hour)
	latest := h.click(t, "aff1", "")

	out, err := h.Commissions.CompleteOrder(ctx, OrderEvent{OrderID: "o2", OrderValue: 50, Source: Source{Ref: "alice"}})
	if err != nil {
		t.Fatalf("CompleteOrder: %v", err)
	}
	if out.Commission.ClickID != latest {
		t.Fatalf("credited %s, want latest click %s", out.Commission.ClickID, latest)
	}
	if out.Commission.Commission != 4 {
		t.Fatalf("default rate commission = %v, want 4", out.Commission.Commission)
	}
}

func TestCompleteOrderUnattributed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.affiliate(t, "aff1", "alice", 10)
	_, _ = h.Affiliates.UpsertAffiliate(ctx, &models.Affiliate{ID: "aff2", Code: "bob", CommissionRate: 10, Status: models.AffiliateStatusSuspended})

	tests := []struct {
		name   string
		src    Source
		reason string
	}{
		{"no cookie", Source{}, "no_attribution"},
		{"malformed cookie", Source{Ref: "not valid!"}, "no_attribution"},
		{"unknown affiliate", Source{Ref: "carol"}, "unknown_affiliate"},
		{"suspended affiliate", Source{AffiliateID: "aff2"}, "inactive_affiliate"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := h.Commissions.CompleteOrder(ctx, OrderEvent{OrderID: "u-" + string(rune('a'+i)), OrderValue: 100, Source: tt.src})
			if err != nil {
				t.Fatalf("attribution miss must not be an error: %v", err)
			}
			if out.Attributed || out.Commission != nil || out.Reason != tt.reason {
				t.Fatalf("got %+v, want unattributed (%s)", out, tt.reason)
			}
		})
	}
}

func TestAdjustCommissionTwice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.affiliate(t, "aff1", "alice", 10)
	if _, err := h.Commissions.CompleteOrder(ctx, OrderEvent{OrderID: "o1", OrderValue: 200, Source: Source{AffiliateID: "aff1"}}); err != nil {
		t.Fatalf("CompleteOrder: %v", err)
	}

	if _, err := h.Commissions.AdjustCommission(ctx, "o1", 15, "partial refund", "admin"); err != nil {
		t.Fatalf("first adjustment: %v", err)
	}
	h.clock.Advance(time.Minute)
	if _, err := h.Commissions.AdjustCommission(ctx, "o1", 12.5, "second look", "admin"); err != nil {
		t.Fatalf("second adjustment: %v", err)
	}

	hist, err := h.Commissions.CommissionHistory(ctx, "o1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist.Adjustments) != 2 {
		t.Fatalf("adjustments = %d, want 2", len(hist.Adjustments))
	}
	if hist.Record.Commission != 20 {
		t.Fatalf("computed commission mutated: %v", hist.Record.Commission)
	}
	if hist.Adjustments[1].OriginalCommission != 15 {
		t.Fatalf("second adjustment should start from 15, got %v", hist.Adjustments[1].OriginalCommission)
	}
	current, _ := h.Commissions.CurrentCommission(ctx, "o1")
	if current != 12.5 {
		t.Fatalf("current = %v, want 12.5", current)
	}
}

func TestAdjustCommissionErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.Commissions.AdjustCommission(ctx, "missing", 1, "x", "admin"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown order: got %v", err)
	}
	if _, err := h.Commissions.AdjustCommission(ctx, "missing", -1, "x", "admin"); !IsValidation(err) {
		t.Fatalf("negative amount: got %v", err)
	}
	if _, err := h.Commissions.AdjustCommission(ctx, "missing", 1, "  ", "admin"); !IsValidation(err) {
		t.Fatalf("empty reason: got %v", err)
	}
}

func TestReverseOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.affiliate(t, "aff1", "alice", 10)
	_, _ = h.Commissions.CompleteOrder(ctx, OrderEvent{OrderID: "o1", OrderValue: 100, Source: Source{AffiliateID: "aff1"}})

	rec, err := h.Commissions.ReverseOrder(ctx, "o1")
	if err != nil {
		t.Fatalf("ReverseOrder: %v", err)
	}
	if rec.Status != models.CommissionStatusReversed {
		t.Fatalf("status = %s", rec.Status)
	}
	if _, _, err := h.Settlements.CreateSettlement(ctx, "aff1"); !errors.Is(err, ErrNothingToSettle) {
		t.Fatalf("reversed commission must not be settled, got %v", err)
	}
	if _, err := h.Commissions.ReverseOrder(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown order: got %v", err)
	}
}
