package affiliate

import (
	"sort"
	"strings"

	"github.com/radiusdt/affiliate-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// Order is the part of a completed order the commission engine looks at.
type Order struct {
	Value             float64
	ProductCategories []string
}

// CommissionResult is the computed amount and the rule that produced it.
// RuleID is empty when the affiliate's default rate applied.
type CommissionResult struct {
	Amount float64 `json:"amount"`
	RuleID string  `json:"ruleId,omitempty"`
}

var hundred = decimal.NewFromInt(100)

// ComputeCommission applies the most specific matching rule, falling back to
// defaultRate (a percentage of order value).
func ComputeCommission(order Order, rules []*models.CommissionRule, defaultRate float64) CommissionResult {
	if order.Value <= 0 {
		return CommissionResult{}
	}
	value := money(order.Value)

	rule := SelectRule(order, rules)
	if rule == nil {
		return CommissionResult{Amount: percentOf(value, defaultRate)}
	}

	var amount float64
	switch rule.Type {
	case models.RuleTypeFixed:
		amount = toFloat(money(rule.Value))
	default:
		amount = percentOf(value, rule.Value)
	}
	return CommissionResult{Amount: amount, RuleID: rule.ID}
}

func percentOf(value decimal.Decimal, rate float64) float64 {
	if rate <= 0 {
		return 0
	}
	return toFloat(value.Mul(money(rate)).Div(hundred))
}

// SelectRule returns the winning rule for order, or nil. Rules that fail
// validation never match.
func SelectRule(order Order, rules []*models.CommissionRule) *models.CommissionRule {
	var candidates []*models.CommissionRule
	for _, r := range rules {
		if r == nil || !r.IsActive || r.ValidateConfig() != nil {
			continue
		}
		if r.MinOrderValue != nil && order.Value < *r.MinOrderValue {
			continue
		}
		if r.MaxOrderValue != nil && order.Value > *r.MaxOrderValue {
			continue
		}
		if !categoriesMatch(r.ProductCategories, order.ProductCategories) {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if sa, sb := a.Specificity(), b.Specificity(); sa != sb {
			return sa > sb
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})
	return candidates[0]
}

func categoriesMatch(ruleCats, orderCats []string) bool {
	if len(ruleCats) == 0 {
		return true
	}
	for _, rc := range ruleCats {
		for _, oc := range orderCats {
			if strings.EqualFold(strings.TrimSpace(rc), strings.TrimSpace(oc)) {
				return true
			}
		}
	}
	return false
}
