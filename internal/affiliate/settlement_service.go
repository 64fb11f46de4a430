package affiliate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/radiusdt/affiliate-ledger/internal/metrics"
	"github.com/radiusdt/affiliate-ledger/internal/models"
	"github.com/radiusdt/affiliate-ledger/internal/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Balance splits an affiliate's confirmed commission by settlement state.
type Balance struct {
	AffiliateID string  `json:"affiliateId"`
	Currency    string  `json:"currency"`
	Accrued     float64 `json:"accrued"`
	Pending     float64 `json:"pending"`
	Paid        float64 `json:"paid"`
}

// SettlementService moves accrued commission into payouts.
type SettlementService struct {
	store     *storage.Store
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	currency  string
	minPayout float64
}

func NewSettlementService(d Deps) *SettlementService {
	return &SettlementService{
		store:     d.Store,
		logger:    d.Logger,
		metrics:   d.Metrics,
		now:       d.Now,
		currency:  d.Config.Settlement.Currency,
		minPayout: d.Config.Settlement.MinPayout,
	}
}

// CreateSettlement opens a pending settlement for every confirmed commission
// not held by another settlement. An existing pending settlement is returned
// as is (created=false) so repeated calls never allocate funds twice.
func (s *SettlementService) CreateSettlement(ctx context.Context, affiliateID string) (*models.Settlement, bool, error) {
	if affiliateID == "" {
		return nil, false, invalid("affiliateId", "is required")
	}

	var stl *models.Settlement
	var created bool
	err := s.store.Update(ctx, func(r *storage.Repos) error {
		pending, err := r.PendingSettlement(ctx, affiliateID)
		if err != nil {
			return err
		}
		if pending != nil {
			stl = pending
			return nil
		}

		candidates, err := unsettled(ctx, r, affiliateID)
		if err != nil {
			return err
		}
		total := decimal.Zero
		for _, c := range candidates {
			total = total.Add(money(c.current))
		}
		if len(candidates) == 0 || !total.IsPositive() || total.LessThan(money(s.minPayout)) {
			return ErrNothingToSettle
		}

		now := s.now()
		stl = &models.Settlement{
			ID:          newID(prefixSettlement),
			AffiliateID: affiliateID,
			Amount:      toFloat(total),
			Currency:    s.currency,
			Status:      models.SettlementPending,
			RequestedAt: now,
		}
		if err := r.PutSettlement(ctx, stl); err != nil {
			return err
		}
		for _, c := range candidates {
			c.rec.SettlementID = stl.ID
			c.rec.UpdatedAt = now
			if err := r.PutCommission(ctx, c.rec); err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.logger.Info("settlement created",
			zap.String("settlement_id", stl.ID),
			zap.String("affiliate_id", affiliateID),
			zap.Float64("amount", stl.Amount),
		)
		if s.metrics != nil {
			s.metrics.RecordSettlement(stl.Status, stl.Amount)
		}
	}
	return stl, created, nil
}

// ConfirmSettlement moves pending to processing.
func (s *SettlementService) ConfirmSettlement(ctx context.Context, id string) (*models.Settlement, error) {
	return s.transition(ctx, id, models.SettlementProcessing, func(_ context.Context, _ *storage.Repos, stl *models.Settlement, now time.Time) error {
		stl.ConfirmedAt = &now
		return nil
	})
}

// MarkPaid moves a processing settlement to paid. Its commissions stay
// attached and are never settled again.
func (s *SettlementService) MarkPaid(ctx context.Context, id string) (*models.Settlement, error) {
	return s.transition(ctx, id, models.SettlementPaid, func(_ context.Context, _ *storage.Repos, stl *models.Settlement, now time.Time) error {
		stl.PaidAt = &now
		return nil
	})
}

// FailSettlement marks a settlement failed and releases its commissions for
// a later settlement.
func (s *SettlementService) FailSettlement(ctx context.Context, id, reason string) (*models.Settlement, error) {
	reason = strings.TrimSpace(reason)
	return s.transition(ctx, id, models.SettlementFailed, func(ctx context.Context, r *storage.Repos, stl *models.Settlement, now time.Time) error {
		stl.FailedAt = &now
		stl.FailureReason = reason
		recs, err := r.ListCommissionsBySettlement(ctx, stl.ID)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			rec.SettlementID = ""
			rec.UpdatedAt = now
			if err := r.PutCommission(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SettlementService) transition(ctx context.Context, id, next string, mutate func(context.Context, *storage.Repos, *models.Settlement, time.Time) error) (*models.Settlement, error) {
	var stl *models.Settlement
	err := s.store.Update(ctx, func(r *storage.Repos) error {
		var err error
		stl, err = r.GetSettlement(ctx, id)
		if err != nil {
			return err
		}
		if stl == nil {
			return ErrNotFound
		}
		if !stl.CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, stl.Status, next)
		}
		stl.Status = next
		if err := mutate(ctx, r, stl, s.now()); err != nil {
			return err
		}
		return r.PutSettlement(ctx, stl)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("settlement transitioned",
		zap.String("settlement_id", stl.ID),
		zap.String("status", stl.Status),
	)
	if s.metrics != nil {
		s.metrics.RecordSettlement(stl.Status, stl.Amount)
	}
	return stl, nil
}

func (s *SettlementService) GetSettlement(ctx context.Context, id string) (*models.Settlement, error) {
	var stl *models.Settlement
	err := s.store.View(ctx, func(r *storage.Repos) error {
		var err error
		stl, err = r.GetSettlement(ctx, id)
		return err
	})
	return stl, err
}

// ListSettlements returns settlements newest first; an empty affiliateID lists all.
func (s *SettlementService) ListSettlements(ctx context.Context, affiliateID string) ([]*models.Settlement, error) {
	var stls []*models.Settlement
	err := s.store.View(ctx, func(r *storage.Repos) error {
		var err error
		stls, err = r.ListSettlements(ctx, affiliateID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	sort.SliceStable(stls, func(i, j int) bool {
		if !stls[i].RequestedAt.Equal(stls[j].RequestedAt) {
			return stls[i].RequestedAt.After(stls[j].RequestedAt)
		}
		return stls[i].ID > stls[j].ID
	})
	return stls, nil
}

// Balance reports accrued (unallocated), pending (in open settlements) and
// paid totals.
func (s *SettlementService) Balance(ctx context.Context, affiliateID string) (*Balance, error) {
	b := &Balance{AffiliateID: affiliateID, Currency: s.currency}
	err := s.store.View(ctx, func(r *storage.Repos) error {
		candidates, err := unsettled(ctx, r, affiliateID)
		if err != nil {
			return err
		}
		accrued := decimal.Zero
		for _, c := range candidates {
			accrued = accrued.Add(money(c.current))
		}

		stls, err := r.ListSettlements(ctx, affiliateID)
		if err != nil {
			return err
		}
		pending, paid := decimal.Zero, decimal.Zero
		for _, stl := range stls {
			switch {
			case stl.Open():
				pending = pending.Add(money(stl.Amount))
			case stl.Status == models.SettlementPaid:
				paid = paid.Add(money(stl.Amount))
			}
		}

		b.Accrued, b.Pending, b.Paid = toFloat(accrued), toFloat(pending), toFloat(paid)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

type candidate struct {
	rec     *models.CommissionRecord
	current float64
}

// unsettled returns confirmed commissions not held by a non-failed settlement,
// with their current amounts.
func unsettled(ctx context.Context, r *storage.Repos, affiliateID string) ([]candidate, error) {
	recs, err := r.ListCommissions(ctx, affiliateID)
	if err != nil {
		return nil, err
	}
	var out []candidate
	for _, rec := range recs {
		if rec.Status != models.CommissionStatusConfirmed {
			continue
		}
		if rec.SettlementID != "" {
			stl, err := r.GetSettlement(ctx, rec.SettlementID)
			if err != nil {
				return nil, err
			}
			if stl != nil && stl.Status != models.SettlementFailed {
				continue
			}
		}
		current, err := currentCommission(ctx, r, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, candidate{rec: rec, current: current})
	}
	return out, nil
}
