package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/radiusdt/affiliate-ledger/internal/models"
	"go.uber.org/zap"
)

// Store wraps a Backend with typed, validating access to each collection.
type Store struct {
	backend Backend
	logger  *zap.Logger
	observe func(op string, err error, d time.Duration)
}

func NewStore(backend Backend, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{backend: backend, logger: logger}
}

// WithObserver registers a callback timing every Update and View.
func (s *Store) WithObserver(fn func(op string, err error, d time.Duration)) *Store {
	s.observe = fn
	return s
}

// Backend returns the underlying backend name.
func (s *Store) Backend() string { return s.backend.Name() }

// Update runs fn in the backend's single-writer critical section.
func (s *Store) Update(ctx context.Context, fn func(r *Repos) error) error {
	start := time.Now()
	err := s.backend.Update(ctx, func(tx Tx) error {
		return fn(&Repos{tx: tx, logger: s.logger})
	})
	if s.observe != nil {
		s.observe("update", err, time.Since(start))
	}
	return err
}

// View runs fn against a consistent snapshot.
func (s *Store) View(ctx context.Context, fn func(r *Repos) error) error {
	start := time.Now()
	err := s.backend.View(ctx, func(tx Tx) error {
		return fn(&Repos{tx: tx, logger: s.logger})
	})
	if s.observe != nil {
		s.observe("view", err, time.Since(start))
	}
	return err
}

func (s *Store) Close() error {
	return s.backend.Close()
}

// Repos is the typed view of one transaction. Records that fail validation
// are logged and treated as absent. Getters return (nil, nil) when missing.
type Repos struct {
	tx     Tx
	logger *zap.Logger
}

type record[T any] interface {
	*T
	Validate() error
}

func decode[T any, P record[T]](r *Repos, d Document) (*T, bool) {
	v := P(new(T))
	if err := json.Unmarshal(d.Body, v); err != nil {
		r.logger.Warn("skipping malformed record",
			zap.String("kind", string(d.Kind)),
			zap.String("id", d.ID),
			zap.Error(err),
		)
		return nil, false
	}
	if err := v.Validate(); err != nil {
		r.logger.Warn("skipping invalid record",
			zap.String("kind", string(d.Kind)),
			zap.String("id", d.ID),
			zap.Error(err),
		)
		return nil, false
	}
	return (*T)(v), true
}

func get[T any, P record[T]](ctx context.Context, r *Repos, kind Kind, id string) (*T, error) {
	if id == "" {
		return nil, nil
	}
	d, ok, err := r.tx.Get(ctx, kind, id)
	if err != nil || !ok {
		return nil, err
	}
	d.Kind, d.ID = kind, id
	v, ok := decode[T, P](r, d)
	if !ok {
		return nil, nil
	}
	return v, nil
}

func list[T any, P record[T]](ctx context.Context, r *Repos, kind Kind, filter Filter) ([]*T, error) {
	docs, err := r.tx.List(ctx, kind, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(docs))
	for _, d := range docs {
		if v, ok := decode[T, P](r, d); ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func put(ctx context.Context, r *Repos, kind Kind, id, owner, ref string, v interface{ Validate() error }) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("refusing to store invalid %s record: %w", kind, err)
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", kind, err)
	}
	return r.tx.Put(ctx, Document{Kind: kind, ID: id, Owner: owner, Ref: ref, Body: body})
}

// Clicks

func (r *Repos) GetClick(ctx context.Context, id string) (*models.ClickRecord, error) {
	return get[models.ClickRecord](ctx, r, KindClick, id)
}

func (r *Repos) PutClick(ctx context.Context, c *models.ClickRecord) error {
	return put(ctx, r, KindClick, c.ID, c.AffiliateID, c.LinkID, c)
}

// ListClicks returns the affiliate's clicks in id (creation) order.
func (r *Repos) ListClicks(ctx context.Context, affiliateID string) ([]*models.ClickRecord, error) {
	return list[models.ClickRecord](ctx, r, KindClick, Filter{Owner: affiliateID})
}

// ListClicksByLink returns every click recorded through linkID.
func (r *Repos) ListClicksByLink(ctx context.Context, linkID string) ([]*models.ClickRecord, error) {
	if linkID == "" {
		return nil, nil
	}
	return list[models.ClickRecord](ctx, r, KindClick, Filter{Ref: linkID})
}

// Links

func (r *Repos) GetLink(ctx context.Context, id string) (*models.AffiliateLink, error) {
	return get[models.AffiliateLink](ctx, r, KindLink, id)
}

func (r *Repos) GetLinkByCode(ctx context.Context, code string) (*models.AffiliateLink, error) {
	if code == "" {
		return nil, nil
	}
	links, err := list[models.AffiliateLink](ctx, r, KindLink, Filter{Ref: code})
	if err != nil || len(links) == 0 {
		return nil, err
	}
	return links[0], nil
}

func (r *Repos) PutLink(ctx context.Context, l *models.AffiliateLink) error {
	return put(ctx, r, KindLink, l.ID, l.AffiliateID, l.Code, l)
}

func (r *Repos) DeleteLink(ctx context.Context, id string) error {
	return r.tx.Delete(ctx, KindLink, id)
}

func (r *Repos) ListLinks(ctx context.Context, affiliateID string) ([]*models.AffiliateLink, error) {
	return list[models.AffiliateLink](ctx, r, KindLink, Filter{Owner: affiliateID})
}

// Affiliates

func (r *Repos) GetAffiliate(ctx context.Context, id string) (*models.Affiliate, error) {
	return get[models.Affiliate](ctx, r, KindAffiliate, id)
}

func (r *Repos) GetAffiliateByCode(ctx context.Context, code string) (*models.Affiliate, error) {
	if code == "" {
		return nil, nil
	}
	affs, err := list[models.Affiliate](ctx, r, KindAffiliate, Filter{Ref: code})
	if err != nil || len(affs) == 0 {
		return nil, err
	}
	return affs[0], nil
}

func (r *Repos) PutAffiliate(ctx context.Context, a *models.Affiliate) error {
	return put(ctx, r, KindAffiliate, a.ID, a.ID, a.Code, a)
}

func (r *Repos) ListAffiliates(ctx context.Context) ([]*models.Affiliate, error) {
	return list[models.Affiliate](ctx, r, KindAffiliate, Filter{})
}

// Commission rules

func (r *Repos) GetRule(ctx context.Context, id string) (*models.CommissionRule, error) {
	return get[models.CommissionRule](ctx, r, KindRule, id)
}

func (r *Repos) PutRule(ctx context.Context, rule *models.CommissionRule) error {
	return put(ctx, r, KindRule, rule.ID, "", "", rule)
}

func (r *Repos) ListRules(ctx context.Context) ([]*models.CommissionRule, error) {
	return list[models.CommissionRule](ctx, r, KindRule, Filter{})
}

// Order commissions, keyed by order id

func (r *Repos) GetCommission(ctx context.Context, orderID string) (*models.CommissionRecord, error) {
	return get[models.CommissionRecord](ctx, r, KindCommission, orderID)
}

func (r *Repos) PutCommission(ctx context.Context, c *models.CommissionRecord) error {
	return put(ctx, r, KindCommission, c.OrderID, c.AffiliateID, c.SettlementID, c)
}

func (r *Repos) ListCommissions(ctx context.Context, affiliateID string) ([]*models.CommissionRecord, error) {
	return list[models.CommissionRecord](ctx, r, KindCommission, Filter{Owner: affiliateID})
}

// ListCommissionsBySettlement returns the commissions allocated to a settlement.
func (r *Repos) ListCommissionsBySettlement(ctx context.Context, settlementID string) ([]*models.CommissionRecord, error) {
	if settlementID == "" {
		return nil, nil
	}
	return list[models.CommissionRecord](ctx, r, KindCommission, Filter{Ref: settlementID})
}

// Adjustments are append-only: there is no delete and ids are never reused.

func (r *Repos) AppendAdjustment(ctx context.Context, a *models.CommissionAdjustment) error {
	_, exists, err := r.tx.Get(ctx, KindAdjustment, a.ID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("adjustment %s already exists", a.ID)
	}
	return put(ctx, r, KindAdjustment, a.ID, a.AffiliateID, a.OrderID, a)
}

// ListAdjustments returns an order's adjustments in append order.
func (r *Repos) ListAdjustments(ctx context.Context, orderID string) ([]*models.CommissionAdjustment, error) {
	return list[models.CommissionAdjustment](ctx, r, KindAdjustment, Filter{Ref: orderID})
}

func (r *Repos) ListAdjustmentsByAffiliate(ctx context.Context, affiliateID string) ([]*models.CommissionAdjustment, error) {
	return list[models.CommissionAdjustment](ctx, r, KindAdjustment, Filter{Owner: affiliateID})
}

// Settlements

func (r *Repos) GetSettlement(ctx context.Context, id string) (*models.Settlement, error) {
	return get[models.Settlement](ctx, r, KindSettlement, id)
}

func (r *Repos) PutSettlement(ctx context.Context, s *models.Settlement) error {
	return put(ctx, r, KindSettlement, s.ID, s.AffiliateID, s.Status, s)
}

// ListSettlements returns settlements for one affiliate, or all when affiliateID is empty.
func (r *Repos) ListSettlements(ctx context.Context, affiliateID string) ([]*models.Settlement, error) {
	return list[models.Settlement](ctx, r, KindSettlement, Filter{Owner: affiliateID})
}

// PendingSettlement returns the affiliate's pending settlement, if any.
func (r *Repos) PendingSettlement(ctx context.Context, affiliateID string) (*models.Settlement, error) {
	stls, err := list[models.Settlement](ctx, r, KindSettlement, Filter{Owner: affiliateID, Ref: models.SettlementPending})
	if err != nil || len(stls) == 0 {
		return nil, err
	}
	return stls[len(stls)-1], nil
}
