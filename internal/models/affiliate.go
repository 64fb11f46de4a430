package models

import (
	"errors"
	"time"
)

// Affiliate status values.
const (
	AffiliateStatusActive    = "active"
	AffiliateStatusSuspended = "suspended"
)

// Affiliate mirrors the partner record owned by the commerce engine.
// CommissionRate is a percentage of order value used when no rule matches.
type Affiliate struct {
	ID             string    `json:"id"`
	Code           string    `json:"code"`
	CommissionRate float64   `json:"commissionRate"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (a *Affiliate) Validate() error {
	if a.ID == "" || a.Code == "" {
		return errors.New("affiliate: missing id or code")
	}
	if a.CommissionRate < 0 || a.CommissionRate > 100 {
		return errors.New("affiliate: commissionRate out of range")
	}
	switch a.Status {
	case AffiliateStatusActive, AffiliateStatusSuspended:
	default:
		return errors.New("affiliate: unknown status")
	}
	return nil
}

// IsActive reports whether the affiliate may earn commission.
func (a *Affiliate) IsActive() bool {
	return a.Status == AffiliateStatusActive
}
