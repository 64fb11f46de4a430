package affiliate

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/radiusdt/affiliate-ledger/internal/models"
	"github.com/radiusdt/affiliate-ledger/internal/storage"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// RuleInput is the writable part of a commission rule.
type RuleInput struct {
	Name              string   `json:"name" yaml:"name"`
	Type              string   `json:"type" yaml:"type"`
	Value             float64  `json:"value" yaml:"value"`
	MinOrderValue     *float64 `json:"minOrderValue,omitempty" yaml:"minOrderValue,omitempty"`
	MaxOrderValue     *float64 `json:"maxOrderValue,omitempty" yaml:"maxOrderValue,omitempty"`
	ProductCategories []string `json:"productCategories,omitempty" yaml:"productCategories,omitempty"`
	IsActive          *bool    `json:"isActive,omitempty" yaml:"isActive,omitempty"`
}

func (in RuleInput) apply(rule *models.CommissionRule) {
	rule.Name = in.Name
	rule.Type = in.Type
	rule.Value = in.Value
	rule.MinOrderValue = in.MinOrderValue
	rule.MaxOrderValue = in.MaxOrderValue
	rule.ProductCategories = in.ProductCategories
	if in.IsActive != nil {
		rule.IsActive = *in.IsActive
	}
}

// RuleService manages commission rules. Rules are toggled, never deleted.
type RuleService struct {
	store  *storage.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewRuleService(store *storage.Store, logger *zap.Logger, now func() time.Time) *RuleService {
	return &RuleService{store: store, logger: logger, now: now}
}

func (s *RuleService) CreateRule(ctx context.Context, in RuleInput) (*models.CommissionRule, error) {
	now := s.now()
	rule := &models.CommissionRule{ID: newID(prefixRule), IsActive: true, CreatedAt: now, UpdatedAt: now}
	in.apply(rule)
	if err := rule.ValidateConfig(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	if err := s.store.Update(ctx, func(r *storage.Repos) error {
		return r.PutRule(ctx, rule)
	}); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	return rule, nil
}

func (s *RuleService) UpdateRule(ctx context.Context, id string, in RuleInput) (*models.CommissionRule, error) {
	var rule *models.CommissionRule
	err := s.store.Update(ctx, func(r *storage.Repos) error {
		existing, err := r.GetRule(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrNotFound
		}
		in.apply(existing)
		if err := existing.ValidateConfig(); err != nil {
			return &ValidationError{Message: err.Error()}
		}
		existing.UpdatedAt = s.now()
		rule = existing
		return r.PutRule(ctx, existing)
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// SetRuleActive toggles a rule.
func (s *RuleService) SetRuleActive(ctx context.Context, id string, active bool) (*models.CommissionRule, error) {
	var rule *models.CommissionRule
	err := s.store.Update(ctx, func(r *storage.Repos) error {
		existing, err := r.GetRule(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrNotFound
		}
		rule = existing
		if existing.IsActive == active {
			return nil
		}
		existing.IsActive = active
		existing.UpdatedAt = s.now()
		return r.PutRule(ctx, existing)
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *RuleService) GetRule(ctx context.Context, id string) (*models.CommissionRule, error) {
	var rule *models.CommissionRule
	err := s.store.View(ctx, func(r *storage.Repos) error {
		var err error
		rule, err = r.GetRule(ctx, id)
		return err
	})
	return rule, err
}

func (s *RuleService) ListRules(ctx context.Context) ([]*models.CommissionRule, error) {
	var rules []*models.CommissionRule
	err := s.store.View(ctx, func(r *storage.Repos) error {
		var err error
		rules, err = r.ListRules(ctx)
		return err
	})
	return rules, err
}

type ruleSeedFile struct {
	Rules []RuleInput `yaml:"rules"`
}

// SeedRules loads rules from a YAML file when the store holds none yet.
// It returns the number of rules created.
func (s *RuleService) SeedRules(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read rules file: %w", err)
	}
	var seed ruleSeedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return 0, fmt.Errorf("failed to parse rules file: %w", err)
	}

	now := s.now()
	rules := make([]*models.CommissionRule, 0, len(seed.Rules))
	for i, in := range seed.Rules {
		rule := &models.CommissionRule{ID: newID(prefixRule), IsActive: true, CreatedAt: now, UpdatedAt: now}
		in.apply(rule)
		if err := rule.ValidateConfig(); err != nil {
			return 0, fmt.Errorf("rules file entry %d: %w", i, err)
		}
		rules = append(rules, rule)
	}

	created := 0
	err = s.store.Update(ctx, func(r *storage.Repos) error {
		existing, err := r.ListRules(ctx)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}
		for _, rule := range rules {
			if err := r.PutRule(ctx, rule); err != nil {
				return err
			}
		}
		created = len(rules)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if created > 0 {
		s.logger.Info("seeded commission rules", zap.Int("count", created), zap.String("file", path))
	}
	return created, nil
}
