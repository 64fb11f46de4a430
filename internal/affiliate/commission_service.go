package affiliate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/radiusdt/affiliate-ledger/internal/archive"
	"github.com/radiusdt/affiliate-ledger/internal/metrics"
	"github.com/radiusdt/affiliate-ledger/internal/models"
	"github.com/radiusdt/affiliate-ledger/internal/storage"
	"go.uber.org/zap"
)

// OrderEvent is a completed order pushed by the commerce engine.
type OrderEvent struct {
	OrderID           string
	OrderValue        float64
	Currency          string
	ProductCategories []string
	Source            Source
}

// OrderOutcome reports what CompleteOrder did. Commission is nil for
// unattributed orders.
type OrderOutcome struct {
	Attributed bool                     `json:"attributed"`
	Reason     string                   `json:"reason,omitempty"`
	Replayed   bool                     `json:"replayed"`
	Commission *models.CommissionRecord `json:"commission,omitempty"`
}

// CommissionHistory is an order's computed commission and its audit trail.
type CommissionHistory struct {
	Record      *models.CommissionRecord       `json:"record"`
	Adjustments []*models.CommissionAdjustment `json:"adjustments"`
	Current     float64                        `json:"currentCommission"`
}

// CommissionService turns completed orders into commission records and
// layers manual adjustments on top.
type CommissionService struct {
	store       *storage.Store
	archive     archive.Sink
	statsCache  StatsCache
	logger      *zap.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
	defaultRate float64
	window      time.Duration
	currency    string
}

func NewCommissionService(d Deps) *CommissionService {
	return &CommissionService{
		store:       d.Store,
		archive:     d.Archive,
		statsCache:  d.StatsCache,
		logger:      d.Logger,
		metrics:     d.Metrics,
		now:         d.Now,
		defaultRate: d.Config.Commission.DefaultRate,
		window:      d.Config.Tracking.AttributionWindow,
		currency:    d.Config.Settlement.Currency,
	}
}

// CompleteOrder attributes an order, computes its commission and flips the
// crediting click to converted in one critical section. Replaying an order
// id returns the existing record. Attribution misses are not errors.
func (s *CommissionService) CompleteOrder(ctx context.Context, ev OrderEvent) (*OrderOutcome, error) {
	if ev.OrderID == "" {
		return nil, invalid("orderId", "is required")
	}
	if ev.OrderValue < 0 {
		return nil, invalid("orderValue", "must not be negative")
	}
	if ev.Currency == "" {
		ev.Currency = s.currency
	}

	out := &OrderOutcome{}
	var click *models.ClickRecord
	var firstConversion bool

	err := s.store.Update(ctx, func(r *storage.Repos) error {
		existing, err := r.GetCommission(ctx, ev.OrderID)
		if err != nil {
			return err
		}
		if existing != nil {
			out.Attributed, out.Replayed, out.Commission = true, true, existing
			return nil
		}

		att, ok := ResolveAttribution(ev.Source)
		if !ok {
			out.Reason = "no_attribution"
			return nil
		}
		now := s.now()
		res, reason, err := resolveOrder(ctx, r, att, now.Add(-s.window))
		if err != nil {
			return err
		}
		if reason != "" {
			out.Reason = reason
			return nil
		}

		rules, err := r.ListRules(ctx)
		if err != nil {
			return err
		}
		result := ComputeCommission(Order{Value: ev.OrderValue, ProductCategories: ev.ProductCategories}, rules, res.affiliate.CommissionRate)

		rec := &models.CommissionRecord{
			OrderID:           ev.OrderID,
			AffiliateID:       res.affiliate.ID,
			LinkID:            res.linkID,
			OrderValue:        round2(ev.OrderValue),
			Currency:          strings.ToUpper(ev.Currency),
			ProductCategories: ev.ProductCategories,
			RuleID:            result.RuleID,
			Commission:        result.Amount,
			Status:            models.CommissionStatusConfirmed,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if res.click != nil {
			rec.ClickID = res.click.ID
			click = res.click
			// A click already converted by an earlier order keeps that
			// conversion; stats sum every order crediting the click.
			if !click.Converted {
				if firstConversion, err = applyConversion(ctx, r, click, ev.OrderValue, now); err != nil {
					return err
				}
			}
		}
		if err := r.PutCommission(ctx, rec); err != nil {
			return err
		}
		out.Attributed, out.Commission = true, rec
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete order %s: %w", ev.OrderID, err)
	}

	switch {
	case out.Replayed:
	case !out.Attributed:
		s.logger.Info("order unattributed",
			zap.String("order_id", ev.OrderID),
			zap.String("reason", out.Reason),
		)
		if s.metrics != nil {
			s.metrics.RecordUnattributed(out.Reason)
		}
	default:
		rec := out.Commission
		s.logger.Info("commission recorded",
			zap.String("order_id", rec.OrderID),
			zap.String("affiliate_id", rec.AffiliateID),
			zap.String("click_id", rec.ClickID),
			zap.String("rule_id", rec.RuleID),
			zap.Float64("commission", rec.Commission),
		)
		if s.metrics != nil {
			s.metrics.RecordCommission(rec.Status, rec.RuleID, rec.Commission)
			if firstConversion {
				s.metrics.RecordConversion(rec.AffiliateID, rec.OrderValue)
			}
		}
		if click != nil {
			s.archive.Offer(archive.Event{
				Type:        archive.EventConversion,
				ClickID:     click.ID,
				AffiliateID: click.AffiliateID,
				LinkID:      click.LinkID,
				Country:     click.Country,
				Value:       rec.OrderValue,
				Timestamp:   rec.CreatedAt,
			})
		}
		invalidateStats(ctx, s.statsCache, s.logger, rec.AffiliateID)
	}
	return out, nil
}

// ReverseOrder marks an order's commission reversed (refund). A commission
// allocated to a pending settlement is detached from it; one in a
// processing or paid settlement is locked.
func (s *CommissionService) ReverseOrder(ctx context.Context, orderID string) (*models.CommissionRecord, error) {
	var rec *models.CommissionRecord
	err := s.store.Update(ctx, func(r *storage.Repos) error {
		var err error
		rec, err = r.GetCommission(ctx, orderID)
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrNotFound
		}
		if rec.Status == models.CommissionStatusReversed {
			return nil
		}

		stl, err := lockingSettlement(ctx, r, rec)
		if err != nil {
			return err
		}
		if stl != nil {
			current, err := currentCommission(ctx, r, rec)
			if err != nil {
				return err
			}
			stl.Amount = toFloat(money(stl.Amount).Sub(money(current)))
			if err := r.PutSettlement(ctx, stl); err != nil {
				return err
			}
			rec.SettlementID = ""
		}

		rec.Status = models.CommissionStatusReversed
		rec.UpdatedAt = s.now()
		return r.PutCommission(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Commissions.WithLabelValues(models.CommissionStatusReversed).Inc()
	}
	invalidateStats(ctx, s.statsCache, s.logger, rec.AffiliateID)
	return rec, nil
}

// AdjustCommission appends an audit entry that becomes the order's current
// commission. The computed record is never modified.
func (s *CommissionService) AdjustCommission(ctx context.Context, orderID string, newAmount float64, reason, actor string) (*models.CommissionAdjustment, error) {
	if newAmount < 0 {
		return nil, invalid("adjustedCommission", "must not be negative")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalid("reason", "is required")
	}
	if actor == "" {
		actor = "system"
	}

	var adj *models.CommissionAdjustment
	err := s.store.Update(ctx, func(r *storage.Repos) error {
		rec, err := r.GetCommission(ctx, orderID)
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrNotFound
		}
		stl, err := lockingSettlement(ctx, r, rec)
		if err != nil {
			return err
		}
		current, err := currentCommission(ctx, r, rec)
		if err != nil {
			return err
		}

		adj = &models.CommissionAdjustment{
			ID:                 newID(prefixAdjustment),
			AffiliateID:        rec.AffiliateID,
			OrderID:            rec.OrderID,
			OriginalCommission: current,
			AdjustedCommission: round2(newAmount),
			Reason:             reason,
			CreatedAt:          s.now(),
			CreatedBy:          actor,
		}
		if err := r.AppendAdjustment(ctx, adj); err != nil {
			return err
		}

		if stl != nil {
			delta := money(adj.AdjustedCommission).Sub(money(current))
			stl.Amount = toFloat(money(stl.Amount).Add(delta))
			return r.PutSettlement(ctx, stl)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("commission adjusted",
		zap.String("order_id", orderID),
		zap.Float64("from", adj.OriginalCommission),
		zap.Float64("to", adj.AdjustedCommission),
		zap.String("actor", actor),
	)
	if s.metrics != nil {
		s.metrics.RecordAdjustment()
	}
	invalidateStats(ctx, s.statsCache, s.logger, adj.AffiliateID)
	return adj, nil
}

// CurrentCommission is the latest adjustment if any, else the computed value.
func (s *CommissionService) CurrentCommission(ctx context.Context, orderID string) (float64, error) {
	h, err := s.CommissionHistory(ctx, orderID)
	if err != nil {
		return 0, err
	}
	return h.Current, nil
}

// CommissionHistory returns the record and its adjustments in append order.
func (s *CommissionService) CommissionHistory(ctx context.Context, orderID string) (*CommissionHistory, error) {
	var h *CommissionHistory
	err := s.store.View(ctx, func(r *storage.Repos) error {
		rec, err := r.GetCommission(ctx, orderID)
		if err != nil {
			return err
		}
		if rec == nil {
			return ErrNotFound
		}
		adjs, err := orderedAdjustments(ctx, r, orderID)
		if err != nil {
			return err
		}
		h = &CommissionHistory{Record: rec, Adjustments: adjs, Current: latestAmount(rec, adjs)}
		return nil
	})
	return h, err
}

// lockingSettlement returns the pending settlement holding rec, or
// ErrCommissionLocked when it is held by a processing or paid one.
func lockingSettlement(ctx context.Context, r *storage.Repos, rec *models.CommissionRecord) (*models.Settlement, error) {
	if rec.SettlementID == "" {
		return nil, nil
	}
	stl, err := r.GetSettlement(ctx, rec.SettlementID)
	if err != nil || stl == nil {
		return nil, err
	}
	switch stl.Status {
	case models.SettlementPending:
		return stl, nil
	case models.SettlementProcessing, models.SettlementPaid:
		return nil, ErrCommissionLocked
	default:
		return nil, nil
	}
}

func currentCommission(ctx context.Context, r *storage.Repos, rec *models.CommissionRecord) (float64, error) {
	adjs, err := orderedAdjustments(ctx, r, rec.OrderID)
	if err != nil {
		return 0, err
	}
	return latestAmount(rec, adjs), nil
}

func orderedAdjustments(ctx context.Context, r *storage.Repos, orderID string) ([]*models.CommissionAdjustment, error) {
	adjs, err := r.ListAdjustments(ctx, orderID)
	if err != nil {
		return nil, err
	}
	sortAdjustments(adjs)
	return adjs, nil
}

// sortAdjustments orders by creation time; ids break ties in append order.
func sortAdjustments(adjs []*models.CommissionAdjustment) {
	sort.SliceStable(adjs, func(i, j int) bool {
		if !adjs[i].CreatedAt.Equal(adjs[j].CreatedAt) {
			return adjs[i].CreatedAt.Before(adjs[j].CreatedAt)
		}
		return adjs[i].ID < adjs[j].ID
	})
}

func latestAmount(rec *models.CommissionRecord, adjs []*models.CommissionAdjustment) float64 {
	if len(adjs) == 0 {
		return rec.Commission
	}
	return adjs[len(adjs)-1].AdjustedCommission
}
