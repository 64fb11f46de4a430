package affiliate

import (
	"context"
	"sync"
	"time"

	"github.com/radiusdt/affiliate-ledger/internal/archive"
	"github.com/radiusdt/affiliate-ledger/internal/metrics"
	"github.com/radiusdt/affiliate-ledger/internal/models"
	"github.com/radiusdt/affiliate-ledger/internal/storage"
	"github.com/radiusdt/affiliate-ledger/internal/targeting"
	"go.uber.org/zap"
)

const counterUpdateTimeout = 5 * time.Second

// ClickInput is the request metadata of one tracked redirect.
type ClickInput struct {
	AffiliateID string
	LinkID      string
	IP          string
	UserAgent   string
	Referrer    string
}

// ClickService is the click store: an append-only log of clicks whose only
// mutation is the conversion flag.
type ClickService struct {
	store      *storage.Store
	links      *LinkService
	locator    *targeting.Locator
	archive    archive.Sink
	statsCache StatsCache
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	wg sync.WaitGroup
}

func NewClickService(d Deps, links *LinkService) *ClickService {
	return &ClickService{
		store:      d.Store,
		links:      links,
		locator:    d.Locator,
		archive:    d.Archive,
		statsCache: d.StatsCache,
		logger:     d.Logger,
		metrics:    d.Metrics,
		now:        d.Now,
	}
}

// RecordClick appends a click and returns its id. The link click counter is
// updated asynchronously; a failed counter update is logged and skipped.
// Track only calls it with a resolved affiliate, so the affiliateId check
// never fails on the tracking path.
func (s *ClickService) RecordClick(ctx context.Context, in ClickInput) (string, error) {
	if in.AffiliateID == "" {
		return "", invalid("affiliateId", "is required")
	}

	click := &models.ClickRecord{
		ID:          newID(prefixClick),
		AffiliateID: in.AffiliateID,
		LinkID:      in.LinkID,
		Timestamp:   s.now(),
		IP:          in.IP,
		UserAgent:   truncate(in.UserAgent, 512),
		Referrer:    truncate(in.Referrer, 2048),
		Country:     s.locator.CountryCode(in.IP),
	}

	if err := s.store.Update(ctx, func(r *storage.Repos) error {
		return r.PutClick(ctx, click)
	}); err != nil {
		return "", err
	}

	if s.metrics != nil {
		s.metrics.RecordClick(click.AffiliateID)
	}
	s.archive.Offer(archive.Event{
		Type:        archive.EventClick,
		ClickID:     click.ID,
		AffiliateID: click.AffiliateID,
		LinkID:      click.LinkID,
		Country:     click.Country,
		Timestamp:   click.Timestamp,
	})
	invalidateStats(ctx, s.statsCache, s.logger, click.AffiliateID)

	if click.LinkID != "" {
		s.wg.Add(1)
		go func(linkID string) {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), counterUpdateTimeout)
			defer cancel()
			if err := s.links.RefreshClickCount(ctx, linkID); err != nil {
				s.logger.Warn("failed to update link click counter",
					zap.String("link_id", linkID),
					zap.String("click_id", click.ID),
					zap.Error(err),
				)
				if s.metrics != nil {
					s.metrics.RecordCounterFailure()
				}
			}
		}(click.LinkID)
	}

	return click.ID, nil
}

// RecordConversion flips a click to converted with value. It returns false
// and changes nothing when the click is unknown. A repeat call overwrites the
// value and timestamp in place and does not count a second conversion.
func (s *ClickService) RecordConversion(ctx context.Context, clickID string, value float64) (bool, error) {
	if value < 0 {
		return false, invalid("conversionValue", "must not be negative")
	}

	var click *models.ClickRecord
	var first bool
	err := s.store.Update(ctx, func(r *storage.Repos) error {
		var err error
		click, err = r.GetClick(ctx, clickID)
		if err != nil || click == nil {
			return err
		}
		first, err = applyConversion(ctx, r, click, value, s.now())
		return err
	})
	if err != nil {
		return false, err
	}
	if click == nil {
		return false, nil
	}

	s.afterConversion(ctx, click, first)
	return true, nil
}

// GetClick returns a click or nil.
func (s *ClickService) GetClick(ctx context.Context, id string) (*models.ClickRecord, error) {
	var click *models.ClickRecord
	err := s.store.View(ctx, func(r *storage.Repos) error {
		var err error
		click, err = r.GetClick(ctx, id)
		return err
	})
	return click, err
}

// LatestClick returns the affiliate's most recent click at or after since,
// restricted to linkID when set.
func (s *ClickService) LatestClick(ctx context.Context, affiliateID, linkID string, since time.Time) (*models.ClickRecord, error) {
	var click *models.ClickRecord
	err := s.store.View(ctx, func(r *storage.Repos) error {
		var err error
		click, err = latestClick(ctx, r, affiliateID, linkID, since)
		return err
	})
	return click, err
}

// Close waits for in-flight counter updates.
func (s *ClickService) Close() {
	s.wg.Wait()
}

func (s *ClickService) afterConversion(ctx context.Context, click *models.ClickRecord, first bool) {
	if first && s.metrics != nil {
		s.metrics.RecordConversion(click.AffiliateID, click.Value())
	}
	s.archive.Offer(archive.Event{
		Type:        archive.EventConversion,
		ClickID:     click.ID,
		AffiliateID: click.AffiliateID,
		LinkID:      click.LinkID,
		Country:     click.Country,
		Value:       click.Value(),
		Timestamp:   *click.ConversionTimestamp,
	})
	invalidateStats(ctx, s.statsCache, s.logger, click.AffiliateID)
}

// applyConversion marks click converted and reports whether this was its
// first conversion. Must run inside an Update.
func applyConversion(ctx context.Context, r *storage.Repos, click *models.ClickRecord, value float64, at time.Time) (bool, error) {
	first := !click.Converted
	v := round2(value)
	click.Converted = true
	click.ConversionValue = &v
	click.ConversionTimestamp = &at
	if err := r.PutClick(ctx, click); err != nil {
		return false, err
	}
	if first && click.LinkID != "" {
		if err := bumpConversions(ctx, r, click.LinkID); err != nil {
			return false, err
		}
	}
	return first, nil
}

func latestClick(ctx context.Context, r *storage.Repos, affiliateID, linkID string, since time.Time) (*models.ClickRecord, error) {
	clicks, err := r.ListClicks(ctx, affiliateID)
	if err != nil {
		return nil, err
	}
	var latest *models.ClickRecord
	for _, c := range clicks {
		if c.Timestamp.Before(since) {
			continue
		}
		if linkID != "" && c.LinkID != linkID {
			continue
		}
		if latest == nil || !c.Timestamp.Before(latest.Timestamp) {
			latest = c
		}
	}
	return latest, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
