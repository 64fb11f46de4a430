package affiliate

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/radiusdt/affiliate-ledger/internal/models"
	"github.com/radiusdt/affiliate-ledger/internal/storage"
	"go.uber.org/zap"
)

// LinkService manages affiliate short links and their counters.
type LinkService struct {
	store  *storage.Store
	cache  *cache.Cache
	logger *zap.Logger
	now    func() time.Time
}

func NewLinkService(store *storage.Store, c *cache.Cache, logger *zap.Logger, now func() time.Time) *LinkService {
	return &LinkService{store: store, cache: c, logger: logger, now: now}
}

// CreateLink registers a link for affiliateID. An empty code is generated.
func (s *LinkService) CreateLink(ctx context.Context, affiliateID, target, code string) (*models.AffiliateLink, error) {
	if affiliateID == "" {
		return nil, invalid("affiliateId", "is required")
	}
	if err := validateLinkURL(target); err != nil {
		return nil, err
	}
	generated := code == ""
	if !generated && !codePattern.MatchString(code) {
		return nil, invalid("code", "must be 3-32 characters of letters, digits, '-' or '_'")
	}

	link := &models.AffiliateLink{
		ID:          newID(prefixLink),
		AffiliateID: affiliateID,
		URL:         target,
		CreatedAt:   s.now(),
	}

	err := s.store.Update(ctx, func(r *storage.Repos) error {
		for attempt := 0; attempt < 5; attempt++ {
			candidate := code
			if generated {
				candidate = newLinkCode()
			}
			existing, err := r.GetLinkByCode(ctx, candidate)
			if err != nil {
				return err
			}
			if existing == nil {
				link.Code = candidate
				return r.PutLink(ctx, link)
			}
			if !generated {
				break
			}
		}
		return ErrDuplicateCode
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("link created",
		zap.String("link_id", link.ID),
		zap.String("affiliate_id", affiliateID),
		zap.String("code", link.Code),
	)
	return link, nil
}

func validateLinkURL(raw string) error {
	if raw == "" {
		return invalid("url", "is required")
	}
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("url", "must be an absolute http(s) URL or a site path")
	}
	return nil
}

func (s *LinkService) GetLink(ctx context.Context, id string) (*models.AffiliateLink, error) {
	var link *models.AffiliateLink
	err := s.store.View(ctx, func(r *storage.Repos) error {
		var err error
		link, err = r.GetLink(ctx, id)
		return err
	})
	return link, err
}

// GetLinkByCode resolves a short code, served from the in-process cache
// when possible. Cached copies may carry stale counters.
func (s *LinkService) GetLinkByCode(ctx context.Context, code string) (*models.AffiliateLink, error) {
	key := "code:" + code
	if v, ok := s.cache.Get(key); ok {
		l := v.(models.AffiliateLink)
		return &l, nil
	}

	var link *models.AffiliateLink
	err := s.store.View(ctx, func(r *storage.Repos) error {
		var err error
		link, err = r.GetLinkByCode(ctx, code)
		return err
	})
	if err != nil || link == nil {
		return nil, err
	}
	s.cache.SetDefault(key, *link)
	return link, nil
}

// ListLinks returns the affiliate's links oldest first.
func (s *LinkService) ListLinks(ctx context.Context, affiliateID string) ([]*models.AffiliateLink, error) {
	var links []*models.AffiliateLink
	err := s.store.View(ctx, func(r *storage.Repos) error {
		var err error
		links, err = r.ListLinks(ctx, affiliateID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	sort.SliceStable(links, func(i, j int) bool {
		if !links[i].CreatedAt.Equal(links[j].CreatedAt) {
			return links[i].CreatedAt.Before(links[j].CreatedAt)
		}
		return links[i].ID < links[j].ID
	})
	return links, nil
}

// DeleteLink removes a link. Only the owning affiliate may delete it; the
// link's click records are kept.
func (s *LinkService) DeleteLink(ctx context.Context, affiliateID, linkID string) error {
	var code string
	err := s.store.Update(ctx, func(r *storage.Repos) error {
		link, err := r.GetLink(ctx, linkID)
		if err != nil {
			return err
		}
		if link == nil {
			return ErrNotFound
		}
		if link.AffiliateID != affiliateID {
			return ErrForbidden
		}
		code = link.Code
		return r.DeleteLink(ctx, linkID)
	})
	if err != nil {
		return err
	}
	s.cache.Delete("code:" + code)
	return nil
}

// RefreshClickCount brings the link's click counter up to the number of
// recorded clicks. Repeated calls for the same click never count it twice.
func (s *LinkService) RefreshClickCount(ctx context.Context, linkID string) error {
	return s.store.Update(ctx, func(r *storage.Repos) error {
		link, err := r.GetLink(ctx, linkID)
		if err != nil || link == nil {
			return err
		}
		before := *link
		if err := recountLink(ctx, r, link); err != nil {
			return err
		}
		if *link == before {
			return nil
		}
		return r.PutLink(ctx, link)
	})
}

// ReconcileLink recomputes both counters from click records.
func (s *LinkService) ReconcileLink(ctx context.Context, linkID string) (*models.AffiliateLink, error) {
	var link *models.AffiliateLink
	err := s.store.Update(ctx, func(r *storage.Repos) error {
		var err error
		link, err = r.GetLink(ctx, linkID)
		if err != nil {
			return err
		}
		if link == nil {
			return ErrNotFound
		}
		if err := recountLink(ctx, r, link); err != nil {
			return err
		}
		return r.PutLink(ctx, link)
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

// bumpConversions counts one more conversion on the link, reconciling from
// click records when the counters would otherwise show more conversions
// than clicks. Must run inside an Update.
func bumpConversions(ctx context.Context, r *storage.Repos, linkID string) error {
	link, err := r.GetLink(ctx, linkID)
	if err != nil || link == nil {
		return err
	}
	link.Conversions++
	if link.Conversions > link.Clicks {
		if err := recountLink(ctx, r, link); err != nil {
			return err
		}
	}
	return r.PutLink(ctx, link)
}

// recountLink raises counters to what the click records show. Counters never
// decrease except to restore conversions <= clicks.
func recountLink(ctx context.Context, r *storage.Repos, link *models.AffiliateLink) error {
	clicks, err := r.ListClicksByLink(ctx, link.ID)
	if err != nil {
		return err
	}
	var n, converted int64
	for _, c := range clicks {
		n++
		if c.Converted {
			converted++
		}
	}
	if n > link.Clicks {
		link.Clicks = n
	}
	if converted > link.Conversions {
		link.Conversions = converted
	}
	if link.Conversions > link.Clicks {
		link.Conversions = link.Clicks
	}
	return nil
}
