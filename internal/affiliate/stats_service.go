package affiliate

import (
	"context"
	"time"

	"github.com/radiusdt/affiliate-ledger/internal/metrics"
	"github.com/radiusdt/affiliate-ledger/internal/models"
	"github.com/radiusdt/affiliate-ledger/internal/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	statsTimezone = "UTC"
	dateLayout    = "2006-01-02"
	maxStatsDays  = 366
)

// StatsService rolls clicks and commissions up into day and link buckets.
type StatsService struct {
	store       *storage.Store
	cache       StatsCache
	logger      *zap.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
	defaultRate float64
}

func NewStatsService(d Deps) *StatsService {
	return &StatsService{
		store:       d.Store,
		cache:       d.StatsCache,
		logger:      d.Logger,
		metrics:     d.Metrics,
		now:         d.Now,
		defaultRate: d.Config.Commission.DefaultRate,
	}
}

// GetAffiliateStats summarizes the window [today-(days-1), today] in UTC.
// The result depends only on stored records and the window.
func (s *StatsService) GetAffiliateStats(ctx context.Context, affiliateID string, days int) (*models.AffiliateStatsSummary, error) {
	if affiliateID == "" {
		return nil, invalid("affiliateId", "is required")
	}
	if days < 1 || days > maxStatsDays {
		return nil, invalid("days", "must be between 1 and %d", maxStatsDays)
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	day := today.Format(dateLayout)

	var cacheKey string
	if s.cache != nil {
		cached, key, ok := s.fromCache(ctx, affiliateID, days, day)
		if ok {
			return cached, nil
		}
		cacheKey = key
	}

	var summary *models.AffiliateStatsSummary
	err := s.store.View(ctx, func(r *storage.Repos) error {
		in, err := loadStatsInput(ctx, r, affiliateID)
		if err != nil {
			return err
		}
		if in.rate < 0 {
			in.rate = s.defaultRate
		}
		summary = aggregate(affiliateID, today, days, in)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cacheKey != "" {
		if err := s.cache.Set(ctx, cacheKey, summary); err != nil {
			s.logger.Warn("stats cache write failed", zap.String("affiliate_id", affiliateID), zap.Error(err))
		}
	}
	return summary, nil
}

func (s *StatsService) fromCache(ctx context.Context, affiliateID string, days int, day string) (*models.AffiliateStatsSummary, string, bool) {
	key, err := s.cache.Key(ctx, affiliateID, days, day)
	if err != nil {
		s.logger.Warn("stats cache unavailable", zap.String("affiliate_id", affiliateID), zap.Error(err))
		return nil, "", false
	}
	summary, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("stats cache read failed", zap.String("affiliate_id", affiliateID), zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.RecordStatsCache(ok)
	}
	return summary, key, ok
}

type statsInput struct {
	clicks []*models.ClickRecord
	// credited holds, per click, the totals of every order that credited it.
	credited map[string]credit
	// rate is the affiliate's percentage, negative when the affiliate is unknown.
	rate float64
}

// credit sums the orders attributed to one click. Reversed orders keep their
// revenue and contribute no commission.
type credit struct {
	revenue, commission decimal.Decimal
}

func loadStatsInput(ctx context.Context, r *storage.Repos, affiliateID string) (statsInput, error) {
	in := statsInput{credited: make(map[string]credit), rate: -1}

	aff, err := r.GetAffiliate(ctx, affiliateID)
	if err != nil {
		return in, err
	}
	if aff != nil {
		in.rate = aff.CommissionRate
	}

	if in.clicks, err = r.ListClicks(ctx, affiliateID); err != nil {
		return in, err
	}

	recs, err := r.ListCommissions(ctx, affiliateID)
	if err != nil {
		return in, err
	}
	adjs, err := r.ListAdjustmentsByAffiliate(ctx, affiliateID)
	if err != nil {
		return in, err
	}
	sortAdjustments(adjs)
	byOrder := make(map[string][]*models.CommissionAdjustment)
	for _, a := range adjs {
		byOrder[a.OrderID] = append(byOrder[a.OrderID], a)
	}

	for _, rec := range recs {
		if rec.ClickID == "" {
			continue
		}
		c := in.credited[rec.ClickID]
		c.revenue = c.revenue.Add(money(rec.OrderValue))
		if rec.Status != models.CommissionStatusReversed {
			c.commission = c.commission.Add(money(latestAmount(rec, byOrder[rec.OrderID])))
		}
		in.credited[rec.ClickID] = c
	}
	return in, nil
}

type bucket struct {
	clicks, conversions int64
	revenue, commission decimal.Decimal
}

func (b *bucket) add(c *models.ClickRecord, amounts credit) {
	b.clicks++
	if !c.Converted {
		return
	}
	b.conversions++
	b.revenue = b.revenue.Add(amounts.revenue)
	b.commission = b.commission.Add(amounts.commission)
}

func aggregate(affiliateID string, today time.Time, days int, in statsInput) *models.AffiliateStatsSummary {
	start := today.AddDate(0, 0, -(days - 1))
	end := today.AddDate(0, 0, 1)

	index := make(map[string]int, days)
	daily := make([]bucket, days)
	for i := 0; i < days; i++ {
		index[start.AddDate(0, 0, i).Format(dateLayout)] = i
	}
	links := make(map[string]*bucket)
	countries := make(map[string]int64)
	var total bucket

	for _, c := range in.clicks {
		ts := c.Timestamp.UTC()
		if ts.Before(start) || !ts.Before(end) {
			continue
		}
		i, ok := index[ts.Format(dateLayout)]
		if !ok {
			continue
		}

		var amounts credit
		if c.Converted {
			var ok bool
			if amounts, ok = in.credited[c.ID]; !ok {
				amounts.revenue = money(c.Value())
				amounts.commission = amounts.revenue.Mul(money(in.rate)).Div(hundred).Round(2)
			}
		}

		daily[i].add(c, amounts)
		total.add(c, amounts)
		if c.LinkID != "" {
			b, ok := links[c.LinkID]
			if !ok {
				b = &bucket{}
				links[c.LinkID] = b
			}
			b.add(c, amounts)
		}
		if c.Country != "" {
			countries[c.Country]++
		}
	}

	summary := &models.AffiliateStatsSummary{
		AffiliateID: affiliateID,
		Period: models.StatsPeriod{
			StartDate: start.Format(dateLayout),
			EndDate:   today.Format(dateLayout),
			Days:      days,
			Timezone:  statsTimezone,
		},
		TotalClicks:      total.clicks,
		TotalConversions: total.conversions,
		TotalRevenue:     toFloat(total.revenue),
		TotalCommission:  toFloat(total.commission),
		Trend:            make([]models.AffiliateStatPoint, days),
		LinkStats:        make(map[string]models.LinkStats, len(links)),
	}
	for i := range daily {
		summary.Trend[i] = models.AffiliateStatPoint{
			Date:        start.AddDate(0, 0, i).Format(dateLayout),
			Clicks:      daily[i].clicks,
			Conversions: daily[i].conversions,
			Revenue:     toFloat(daily[i].revenue),
			Commission:  toFloat(daily[i].commission),
		}
	}
	for id, b := range links {
		summary.LinkStats[id] = models.LinkStats{
			Clicks:      b.clicks,
			Conversions: b.conversions,
			Revenue:     toFloat(b.revenue),
			Commission:  toFloat(b.commission),
		}
	}
	if len(countries) > 0 {
		summary.Countries = countries
	}
	return summary
}
