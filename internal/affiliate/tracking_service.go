package affiliate

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/radiusdt/affiliate-ledger/internal/metrics"
	"github.com/radiusdt/affiliate-ledger/internal/models"
	"github.com/radiusdt/affiliate-ledger/internal/storage"
	"go.uber.org/zap"
)

// TrackRequest is an incoming redirect through /track.
type TrackRequest struct {
	Ref       string
	LinkID    string
	Target    string
	IP        string
	UserAgent string
	Referrer  string
}

// TrackResult tells the transport where to redirect and which identity to
// persist. Tracked is false when the redirect degraded to a plain one.
type TrackResult struct {
	Target      string
	Attribution Attribution
	Tracked     bool
}

// TrackingService resolves redirects to affiliates and records the click.
type TrackingService struct {
	store         *storage.Store
	links         *LinkService
	clicks        *ClickService
	logger        *zap.Logger
	metrics       *metrics.Metrics
	defaultTarget string
	allowedHosts  []string
}

func NewTrackingService(d Deps, links *LinkService, clicks *ClickService) *TrackingService {
	return &TrackingService{
		store:         d.Store,
		links:         links,
		clicks:        clicks,
		logger:        d.Logger,
		metrics:       d.Metrics,
		defaultTarget: d.Config.Tracking.DefaultTarget,
		allowedHosts:  d.Config.Tracking.AllowedHosts,
	}
}

// Track never fails: any problem degrades to a plain redirect.
// When ref and linkId disagree the link wins.
func (s *TrackingService) Track(ctx context.Context, req TrackRequest) TrackResult {
	res := TrackResult{Target: s.safeTarget(req.Target, "")}

	att, ok := ResolveAttribution(Source{Ref: req.Ref, LinkID: req.LinkID})
	if !ok {
		s.fail("no_identity", req, nil)
		return res
	}

	var link *models.AffiliateLink
	var aff *models.Affiliate
	err := s.store.View(ctx, func(r *storage.Repos) error {
		var err error
		if att.LinkID != "" {
			if link, err = r.GetLink(ctx, att.LinkID); err != nil {
				return err
			}
		}
		switch {
		case link != nil:
			aff, err = r.GetAffiliate(ctx, link.AffiliateID)
		case att.AffiliateCode != "":
			aff, err = r.GetAffiliateByCode(ctx, att.AffiliateCode)
		}
		return err
	})
	if err != nil {
		s.fail("lookup", req, err)
		return res
	}

	if link != nil && aff != nil && att.AffiliateCode != "" && aff.Code != att.AffiliateCode {
		s.logger.Debug("ref disagrees with link owner, link wins",
			zap.String("ref", att.AffiliateCode),
			zap.String("link_id", link.ID),
		)
	}

	var affiliateID, code, linkID string
	switch {
	case link != nil:
		affiliateID, linkID = link.AffiliateID, link.ID
		res.Target = s.safeTarget(req.Target, link.URL)
	case aff != nil:
		affiliateID = aff.ID
	default:
		s.fail("unknown_reference", req, nil)
		return res
	}
	if aff != nil {
		if !aff.IsActive() {
			s.fail("inactive_affiliate", req, nil)
			return res
		}
		code = aff.Code
	}

	clickID, err := s.clicks.RecordClick(ctx, ClickInput{
		AffiliateID: affiliateID,
		LinkID:      linkID,
		IP:          req.IP,
		UserAgent:   req.UserAgent,
		Referrer:    req.Referrer,
	})
	if err != nil {
		s.fail("record_click", req, err)
		return res
	}

	res.Tracked = true
	res.Attribution = Attribution{
		AffiliateID:   affiliateID,
		AffiliateCode: code,
		LinkID:        linkID,
		ClickID:       clickID,
	}
	return res
}

func (s *TrackingService) fail(stage string, req TrackRequest, err error) {
	fields := []zap.Field{
		zap.String("stage", stage),
		zap.String("ref", req.Ref),
		zap.String("link_id", req.LinkID),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		s.logger.Warn("tracking degraded to plain redirect", fields...)
	} else {
		s.logger.Debug("tracking degraded to plain redirect", fields...)
	}
	if s.metrics != nil {
		s.metrics.RecordTrackingFailure(stage)
	}
}

// safeTarget returns target when it is a site path or an allowed absolute
// URL, else fallback, else the configured default.
func (s *TrackingService) safeTarget(target, fallback string) string {
	for _, t := range []string{target, fallback} {
		if t != "" && s.allowedTarget(t) {
			return t
		}
	}
	if s.defaultTarget == "" {
		return "/"
	}
	return s.defaultTarget
}

func (s *TrackingService) allowedTarget(t string) bool {
	if strings.HasPrefix(t, "/") {
		return !strings.HasPrefix(t, "//") && !strings.HasPrefix(t, "/\\")
	}
	u, err := url.Parse(t)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	if len(s.allowedHosts) == 0 {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range s.allowedHosts {
		h = strings.ToLower(h)
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// resolved is an attribution claim checked against stored records.
type resolved struct {
	affiliate *models.Affiliate
	linkID    string
	click     *models.ClickRecord
}

// resolveOrder maps a claim to an active affiliate and, when possible, the
// crediting click. An empty reason means the order is attributed.
func resolveOrder(ctx context.Context, r *storage.Repos, att Attribution, since time.Time) (resolved, string, error) {
	var out resolved

	var explicit *models.ClickRecord
	if att.ClickID != "" {
		c, err := r.GetClick(ctx, att.ClickID)
		if err != nil {
			return out, "", err
		}
		explicit = c
	}
	var link *models.AffiliateLink
	if att.LinkID != "" {
		l, err := r.GetLink(ctx, att.LinkID)
		if err != nil {
			return out, "", err
		}
		link = l
	}

	var aff *models.Affiliate
	var err error
	switch {
	case att.AffiliateID != "":
		aff, err = r.GetAffiliate(ctx, att.AffiliateID)
	case att.AffiliateCode != "":
		aff, err = r.GetAffiliateByCode(ctx, att.AffiliateCode)
	case link != nil:
		aff, err = r.GetAffiliate(ctx, link.AffiliateID)
	case explicit != nil:
		aff, err = r.GetAffiliate(ctx, explicit.AffiliateID)
	}
	if err != nil {
		return out, "", err
	}
	if aff == nil {
		return out, "unknown_affiliate", nil
	}
	if !aff.IsActive() {
		return out, "inactive_affiliate", nil
	}
	out.affiliate = aff

	if link != nil && link.AffiliateID == aff.ID {
		out.linkID = link.ID
	}

	if explicit != nil && explicit.AffiliateID == aff.ID && !explicit.Timestamp.Before(since) {
		out.click = explicit
	} else {
		c, err := latestClick(ctx, r, aff.ID, out.linkID, since)
		if err != nil {
			return out, "", err
		}
		out.click = c
	}
	if out.click != nil {
		out.linkID = out.click.LinkID
	}
	return out, "", nil
}
