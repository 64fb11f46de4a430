package affiliate

import (
	"context"
	"time"

	"github.com/radiusdt/affiliate-ledger/internal/models"
	"github.com/radiusdt/affiliate-ledger/internal/storage"
	"go.uber.org/zap"
)

// AffiliateService mirrors partner records pushed by the commerce engine.
type AffiliateService struct {
	store      *storage.Store
	statsCache StatsCache
	logger     *zap.Logger
	now        func() time.Time
}

func NewAffiliateService(d Deps) *AffiliateService {
	return &AffiliateService{store: d.Store, statsCache: d.StatsCache, logger: d.Logger, now: d.Now}
}

// UpsertAffiliate creates or replaces an affiliate. Codes are unique.
func (s *AffiliateService) UpsertAffiliate(ctx context.Context, a *models.Affiliate) (*models.Affiliate, error) {
	if a.Status == "" {
		a.Status = models.AffiliateStatusActive
	}
	if a.Code != "" && !codePattern.MatchString(a.Code) {
		return nil, invalid("code", "must be 3-32 characters of letters, digits, '-' or '_'")
	}
	if err := a.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	err := s.store.Update(ctx, func(r *storage.Repos) error {
		other, err := r.GetAffiliateByCode(ctx, a.Code)
		if err != nil {
			return err
		}
		if other != nil && other.ID != a.ID {
			return ErrDuplicateCode
		}

		now := s.now()
		existing, err := r.GetAffiliate(ctx, a.ID)
		if err != nil {
			return err
		}
		a.CreatedAt = now
		if existing != nil {
			a.CreatedAt = existing.CreatedAt
		}
		a.UpdatedAt = now
		return r.PutAffiliate(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	invalidateStats(ctx, s.statsCache, s.logger, a.ID)
	return a, nil
}

func (s *AffiliateService) GetAffiliate(ctx context.Context, id string) (*models.Affiliate, error) {
	var a *models.Affiliate
	err := s.store.View(ctx, func(r *storage.Repos) error {
		var err error
		a, err = r.GetAffiliate(ctx, id)
		return err
	})
	return a, err
}

func (s *AffiliateService) GetAffiliateByCode(ctx context.Context, code string) (*models.Affiliate, error) {
	var a *models.Affiliate
	err := s.store.View(ctx, func(r *storage.Repos) error {
		var err error
		a, err = r.GetAffiliateByCode(ctx, code)
		return err
	})
	return a, err
}
