package models

import (
	"errors"
	"time"
)

// Rule types.
const (
	RuleTypePercentage = "percentage"
	RuleTypeFixed      = "fixed"
)

// CommissionRule determines how much an affiliate earns per qualifying order.
type CommissionRule struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Type              string    `json:"type"`
	Value             float64   `json:"value"`
	MinOrderValue     *float64  `json:"minOrderValue,omitempty"`
	MaxOrderValue     *float64  `json:"maxOrderValue,omitempty"`
	ProductCategories []string  `json:"productCategories,omitempty"`
	IsActive          bool      `json:"isActive"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Validate rejects configurations that must never reach the commission engine.
func (r *CommissionRule) Validate() error {
	if r.ID == "" {
		return errors.New("rule: missing id")
	}
	return r.ValidateConfig()
}

// ValidateConfig checks the business fields only.
func (r *CommissionRule) ValidateConfig() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	switch r.Type {
	case RuleTypePercentage:
		if r.Value > 100 {
			return errors.New("percentage value must not exceed 100")
		}
	case RuleTypeFixed:
	default:
		return errors.New("type must be percentage or fixed")
	}
	if r.Value < 0 {
		return errors.New("value must not be negative")
	}
	if r.MinOrderValue != nil && *r.MinOrderValue < 0 {
		return errors.New("minOrderValue must not be negative")
	}
	if r.MaxOrderValue != nil && *r.MaxOrderValue < 0 {
		return errors.New("maxOrderValue must not be negative")
	}
	if r.MinOrderValue != nil && r.MaxOrderValue != nil && *r.MinOrderValue > *r.MaxOrderValue {
		return errors.New("minOrderValue must not exceed maxOrderValue")
	}
	return nil
}

// Specificity ranks rules: both bounds > one bound > unbounded.
func (r *CommissionRule) Specificity() int {
	n := 0
	if r.MinOrderValue != nil {
		n++
	}
	if r.MaxOrderValue != nil {
		n++
	}
	return n
}

// Commission record status values.
const (
	CommissionStatusConfirmed = "confirmed"
	CommissionStatusReversed  = "reversed"
)

// CommissionRecord is the commission computed for one attributed order.
// Commission is never overwritten; adjustments are layered on top.
type CommissionRecord struct {
	OrderID           string    `json:"orderId"`
	AffiliateID       string    `json:"affiliateId"`
	LinkID            string    `json:"linkId,omitempty"`
	ClickID           string    `json:"clickId,omitempty"`
	OrderValue        float64   `json:"orderValue"`
	Currency          string    `json:"currency"`
	ProductCategories []string  `json:"productCategories,omitempty"`
	RuleID            string    `json:"ruleId,omitempty"`
	Commission        float64   `json:"commission"`
	Status            string    `json:"status"`
	SettlementID      string    `json:"settlementId,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func (c *CommissionRecord) Validate() error {
	if c.OrderID == "" || c.AffiliateID == "" {
		return errors.New("commission: missing orderId or affiliateId")
	}
	if c.Commission < 0 || c.OrderValue < 0 {
		return errors.New("commission: negative amount")
	}
	switch c.Status {
	case CommissionStatusConfirmed, CommissionStatusReversed:
	default:
		return errors.New("commission: unknown status")
	}
	return nil
}

// CommissionAdjustment is an append-only audit entry for a manual change.
type CommissionAdjustment struct {
	ID                 string    `json:"id"`
	AffiliateID        string    `json:"affiliateId"`
	OrderID            string    `json:"orderId"`
	OriginalCommission float64   `json:"originalCommission"`
	AdjustedCommission float64   `json:"adjustedCommission"`
	Reason             string    `json:"reason"`
	CreatedAt          time.Time `json:"createdAt"`
	CreatedBy          string    `json:"createdBy"`
}

func (a *CommissionAdjustment) Validate() error {
	if a.ID == "" || a.OrderID == "" || a.AffiliateID == "" {
		return errors.New("adjustment: missing id, orderId or affiliateId")
	}
	if a.AdjustedCommission < 0 {
		return errors.New("adjustment: negative adjustedCommission")
	}
	return nil
}
