package httpserver

import (
	"net/http"

	"github.com/radiusdt/affiliate-ledger/internal/affiliate"
	"github.com/radiusdt/affiliate-ledger/internal/middleware"
)

// handleTrack records a click and redirects. It always redirects: tracking
// problems only mean no attribution cookies are set.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res := s.svc.Tracking.Track(r.Context(), affiliate.TrackRequest{
		Ref:       q.Get("ref"),
		LinkID:    q.Get("linkId"),
		Target:    q.Get("target"),
		IP:        middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
	})

	if res.Tracked {
		att := res.Attribution
		s.setCookie(w, affiliate.CookieRef, att.AffiliateCode)
		s.setCookie(w, affiliate.CookieID, att.AffiliateID)
		s.setCookie(w, affiliate.CookieClick, att.ClickID)
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, res.Target, http.StatusFound)
}

// setCookie writes an attribution cookie. A later click overwrites it, which
// is what makes attribution last-touch.
func (s *Server) setCookie(w http.ResponseWriter, name, value string) {
	if value == "" {
		return
	}
	ttl := s.config.Tracking.CookieTTL
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.config.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
}
