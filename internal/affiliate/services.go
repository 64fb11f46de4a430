package affiliate

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/radiusdt/affiliate-ledger/internal/archive"
	"github.com/radiusdt/affiliate-ledger/internal/config"
	"github.com/radiusdt/affiliate-ledger/internal/metrics"
	"github.com/radiusdt/affiliate-ledger/internal/storage"
	"github.com/radiusdt/affiliate-ledger/internal/targeting"
	"go.uber.org/zap"
)

// Deps are the collaborators shared by every service. Only Store is required.
type Deps struct {
	Store      *storage.Store
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Locator    *targeting.Locator
	Archive    archive.Sink
	StatsCache StatsCache
	Config     *config.Config
	Now        func() time.Time
}

// Services groups the ledger services.
type Services struct {
	Links       *LinkService
	Clicks      *ClickService
	Affiliates  *AffiliateService
	Rules       *RuleService
	Tracking    *TrackingService
	Commissions *CommissionService
	Stats       *StatsService
	Settlements *SettlementService
}

// NewServices wires the ledger services over a shared store.
func NewServices(d Deps) *Services {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Archive == nil {
		d.Archive = archive.NoopSink{}
	}
	if d.Config == nil {
		d.Config = defaultConfig()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}

	linkCache := cache.New(d.Config.Tracking.LinkCacheTTL, 2*d.Config.Tracking.LinkCacheTTL)

	links := NewLinkService(d.Store, linkCache, d.Logger, d.Now)
	clicks := NewClickService(d, links)
	affiliates := NewAffiliateService(d)
	rules := NewRuleService(d.Store, d.Logger, d.Now)

	return &Services{
		Links:       links,
		Clicks:      clicks,
		Affiliates:  affiliates,
		Rules:       rules,
		Tracking:    NewTrackingService(d, links, clicks),
		Commissions: NewCommissionService(d),
		Stats:       NewStatsService(d),
		Settlements: NewSettlementService(d),
	}
}

// Close waits for in-flight asynchronous work.
func (s *Services) Close() error {
	s.Clicks.Close()
	return nil
}

func defaultConfig() *config.Config {
	return &config.Config{
		Tracking: config.TrackingConfig{
			CookieTTL:         30 * 24 * time.Hour,
			AttributionWindow: 30 * 24 * time.Hour,
			DefaultTarget:     "/",
			LinkCacheTTL:      5 * time.Minute,
		},
		Commission: config.CommissionConfig{DefaultRate: 10},
		Settlement: config.SettlementConfig{Currency: "USD"},
	}
}

// invalidateStats bumps the affiliate's stats cache version after a write.
func invalidateStats(ctx context.Context, c StatsCache, logger *zap.Logger, affiliateIDs ...string) {
	if c == nil {
		return
	}
	seen := make(map[string]bool, len(affiliateIDs))
	for _, id := range affiliateIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if err := c.Invalidate(ctx, id); err != nil {
			logger.Warn("failed to invalidate stats cache",
				zap.String("affiliate_id", id),
				zap.Error(err),
			)
		}
	}
}
