package affiliate

import (
	"context"
	"errors"
	"testing"

	"github.com/radiusdt/affiliate-ledger/internal/models"
)

func orderFor(t *testing.T, h *harness, orderID, affiliateID string, value float64) {
	t.Helper()
	out, err := h.Commissions.CompleteOrder(context.Background(), OrderEvent{OrderID: orderID, OrderValue: value, Source: Source{AffiliateID: affiliateID}})
	if err != nil || !out.Attributed {
		t.Fatalf("CompleteOrder(%s) = %+v, %v", orderID, out, err)
	}
}

func TestCreateSettlementDoesNotAllocateTwice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.affiliate(t, "aff1", "alice", 10)
	orderFor(t, h, "o1", "aff1", 100)
	orderFor(t, h, "o2", "aff1", 50)

	stl, created, err := h.Settlements.CreateSettlement(ctx, "aff1")
	if err != nil || !created {
		t.Fatalf("CreateSettlement = %v, %v", created, err)
	}
	if stl.Amount != 15 || stl.Status != models.SettlementPending {
		t.Fatalf("unexpected settlement %+v", stl)
	}

	again, created, err := h.Settlements.CreateSettlement(ctx, "aff1")
	if err != nil {
		t.Fatalf("second CreateSettlement: %v", err)
	}
	if created || again.ID != stl.ID {
		t.Fatalf("second call should return the pending settlement, got %+v (created=%v)", again, created)
	}

	all, _ := h.Settlements.ListSettlements(ctx, "aff1")
	if len(all) != 1 {
		t.Fatalf("settlements = %d, want 1", len(all))
	}
}

func TestSettlementLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.affiliate(t, "aff1", "alice", 10)
	orderFor(t, h, "o1", "aff1", 100)

	stl, _, _ := h.Settlements.CreateSettlement(ctx, "aff1")
	if _, err := h.Settlements.MarkPaid(ctx, stl.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pending -> paid: got %v", err)
	}
	if got, _ := h.Settlements.GetSettlement(ctx, stl.ID); got.Status != models.SettlementPending || got.PaidAt != nil {
		t.Fatalf("rejected markPaid changed state: %+v", got)
	}
	stl, err := h.Settlements.ConfirmSettlement(ctx, stl.ID)
	if err != nil || stl.Status != models.SettlementProcessing || stl.ConfirmedAt == nil {
		t.Fatalf("confirm = %+v, %v", stl, err)
	}
	stl, err = h.Settlements.MarkPaid(ctx, stl.ID)
	if err != nil || stl.Status != models.SettlementPaid || stl.PaidAt == nil {
		t.Fatalf("markPaid = %+v, %v", stl, err)
	}

	if _, err := h.Settlements.FailSettlement(ctx, stl.ID, "late"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("paid -> failed: got %v", err)
	}
	if _, err := h.Settlements.ConfirmSettlement(ctx, stl.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("paid -> processing: got %v", err)
	}
	if _, err := h.Settlements.MarkPaid(ctx, "stl_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing settlement: got %v", err)
	}

	if _, _, err := h.Settlements.CreateSettlement(ctx, "aff1"); !errors.Is(err, ErrNothingToSettle) {
		t.Fatalf("paid commissions must not be settled again, got %v", err)
	}
}

func TestFailedSettlementReleasesCommissions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.affiliate(t, "aff1", "alice", 10)
	orderFor(t, h, "o1", "aff1", 100)

	first, _, _ := h.Settlements.CreateSettlement(ctx, "aff1")
	failed, err := h.Settlements.FailSettlement(ctx, first.ID, "bank rejected")
	if err != nil || failed.Status != models.SettlementFailed || failed.FailureReason != "bank rejected" {
		t.Fatalf("fail = %+v, %v", failed, err)
	}

	second, created, err := h.Settlements.CreateSettlement(ctx, "aff1")
	if err != nil || !created {
		t.Fatalf("re-settle = %v, %v", created, err)
	}
	if second.ID == first.ID || second.Amount != 10 {
		t.Fatalf("unexpected second settlement %+v", second)
	}
}

func TestAdjustmentAgainstSettlements(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.affiliate(t, "aff1", "alice", 10)
	orderFor(t, h, "o1", "aff1", 100)
	orderFor(t, h, "o2", "aff1", 200)

	stl, _, _ := h.Settlements.CreateSettlement(ctx, "aff1")
	if _, err := h.Commissions.AdjustCommission(ctx, "o1", 4, "partial refund", "admin"); err != nil {
		t.Fatalf("adjust in pending settlement: %v", err)
	}
	got, _ := h.Settlements.GetSettlement(ctx, stl.ID)
	if got.Amount != 24 {
		t.Fatalf("pending settlement amount = %v, want 24", got.Amount)
	}

	if _, err := h.Commissions.ReverseOrder(ctx, "o2"); err != nil {
		t.Fatalf("reverse in pending settlement: %v", err)
	}
	got, _ = h.Settlements.GetSettlement(ctx, stl.ID)
	if got.Amount != 4 {
		t.Fatalf("pending settlement amount after reversal = %v, want 4", got.Amount)
	}

	if _, err := h.Settlements.ConfirmSettlement(ctx, stl.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := h.Commissions.AdjustCommission(ctx, "o1", 1, "too late", "admin"); !errors.Is(err, ErrCommissionLocked) {
		t.Fatalf("adjust in processing settlement: got %v", err)
	}
	if _, err := h.Commissions.ReverseOrder(ctx, "o1"); !errors.Is(err, ErrCommissionLocked) {
		t.Fatalf("reverse in processing settlement: got %v", err)
	}
}

func TestBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.affiliate(t, "aff1", "alice", 10)
	orderFor(t, h, "o1", "aff1", 100)

	stl, _, _ := h.Settlements.CreateSettlement(ctx, "aff1")
	_, _ = h.Settlements.ConfirmSettlement(ctx, stl.ID)
	_, _ = h.Settlements.MarkPaid(ctx, stl.ID)
	orderFor(t, h, "o2", "aff1", 30)
	stl2, _, _ := h.Settlements.CreateSettlement(ctx, "aff1")
	orderFor(t, h, "o3", "aff1", 70)

	b, err := h.Settlements.Balance(ctx, "aff1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if b.Paid != 10 || b.Pending != stl2.Amount || b.Accrued != 7 {
		t.Fatalf("balance = %+v", b)
	}
}
