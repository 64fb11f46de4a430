package affiliate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/radiusdt/affiliate-ledger/internal/models"
)

func TestRuleValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bad := []RuleInput{
		{Name: "", Type: models.RuleTypePercentage, Value: 5},
		{Name: "over", Type: models.RuleTypePercentage, Value: 101},
		{Name: "negative", Type: models.RuleTypeFixed, Value: -1},
		{Name: "kind", Type: "tiered", Value: 1},
		{Name: "bounds", Type: models.RuleTypeFixed, Value: 1, MinOrderValue: ptr(10), MaxOrderValue: ptr(5)},
	}
	for _, in := range bad {
		if _, err := h.Rules.CreateRule(ctx, in); !IsValidation(err) {
			t.Fatalf("CreateRule(%+v): expected validation error, got %v", in, err)
		}
	}
	if rules, _ := h.Rules.ListRules(ctx); len(rules) != 0 {
		t.Fatalf("invalid rules were stored: %d", len(rules))
	}
}

func TestRuleUpdateAndToggle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.rule(t, RuleInput{Name: "base", Type: models.RuleTypePercentage, Value: 10})
	if !r.IsActive {
		t.Fatal("rules start active")
	}

	h.clock.Advance(1)
	upd, err := h.Rules.UpdateRule(ctx, r.ID, RuleInput{Name: "base", Type: models.RuleTypePercentage, Value: 12})
	if err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}
	if upd.Value != 12 || !upd.UpdatedAt.After(r.UpdatedAt) {
		t.Fatalf("unexpected update %+v", upd)
	}

	off, err := h.Rules.SetRuleActive(ctx, r.ID, false)
	if err != nil || off.IsActive {
		t.Fatalf("SetRuleActive = %+v, %v", off, err)
	}
	res := ComputeCommission(Order{Value: 100}, []*models.CommissionRule{off}, 3)
	if res.Amount != 3 || res.RuleID != "" {
		t.Fatalf("inactive rule applied: %+v", res)
	}

	if _, err := h.Rules.UpdateRule(ctx, "rule_missing", RuleInput{Name: "x", Type: models.RuleTypeFixed}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing rule: got %v", err)
	}
	if _, err := h.Rules.SetRuleActive(ctx, "rule_missing", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing rule toggle: got %v", err)
	}
}

func TestSeedRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	seed := `rules:
  - name: default ten percent
    type: percentage
    value: 10
  - name: big baskets
    type: fixed
    value: 25
    minOrderValue: 500
  - name: shoes
    type: percentage
    value: 15
    productCategories: [shoes]
    isActive: false
`
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	n, err := h.Rules.SeedRules(ctx, path)
	if err != nil || n != 3 {
		t.Fatalf("SeedRules = %d, %v", n, err)
	}
	rules, _ := h.Rules.ListRules(ctx)
	if len(rules) != 3 {
		t.Fatalf("rules = %d, want 3", len(rules))
	}
	res := ComputeCommission(Order{Value: 600, ProductCategories: []string{"shoes"}}, rules, 0)
	if res.Amount != 25 {
		t.Fatalf("seeded rules computed %+v, want fixed 25", res)
	}

	n, err = h.Rules.SeedRules(ctx, path)
	if err != nil || n != 0 {
		t.Fatalf("second seed = %d, %v; want no-op", n, err)
	}
}

func TestSeedRulesRejectsInvalidEntry(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "rules.yaml")
	_ = os.WriteFile(path, []byte("rules:\n  - name: broken\n    type: percentage\n    value: 400\n"), 0o600)

	if _, err := h.Rules.SeedRules(context.Background(), path); err == nil {
		t.Fatal("expected error for invalid seed entry")
	}
	if rules, _ := h.Rules.ListRules(context.Background()); len(rules) != 0 {
		t.Fatalf("partial seed stored %d rules", len(rules))
	}
}
