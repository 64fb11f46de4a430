package models

import (
	"errors"
	"time"
)

// Settlement status values. pending -> processing -> paid, or failed (terminal).
const (
	SettlementPending    = "pending"
	SettlementProcessing = "processing"
	SettlementPaid       = "paid"
	SettlementFailed     = "failed"
)

// Settlement is a payout of an affiliate's accrued, unpaid commission.
type Settlement struct {
	ID            string     `json:"id"`
	AffiliateID   string     `json:"affiliateId"`
	Amount        float64    `json:"amount"`
	Currency      string     `json:"currency"`
	Status        string     `json:"status"`
	RequestedAt   time.Time  `json:"requestedAt"`
	PaidAt        *time.Time `json:"paidAt,omitempty"`
	ConfirmedAt   *time.Time `json:"confirmedAt,omitempty"`
	FailedAt      *time.Time `json:"failedAt,omitempty"`
	FailureReason string     `json:"failureReason,omitempty"`
}

func (s *Settlement) Validate() error {
	if s.ID == "" || s.AffiliateID == "" {
		return errors.New("settlement: missing id or affiliateId")
	}
	if s.Amount < 0 {
		return errors.New("settlement: negative amount")
	}
	switch s.Status {
	case SettlementPending, SettlementProcessing, SettlementFailed:
	case SettlementPaid:
		if s.PaidAt == nil {
			return errors.New("settlement: paid without paidAt")
		}
	default:
		return errors.New("settlement: unknown status")
	}
	return nil
}

// Open reports whether the settlement still holds its allocated commissions.
func (s *Settlement) Open() bool {
	return s.Status == SettlementPending || s.Status == SettlementProcessing
}

// CanTransition reports whether the lifecycle allows moving to next.
func (s *Settlement) CanTransition(next string) bool {
	switch s.Status {
	case SettlementPending:
		return next == SettlementProcessing || next == SettlementFailed
	case SettlementProcessing:
		return next == SettlementPaid || next == SettlementFailed
	default:
		return false
	}
}
