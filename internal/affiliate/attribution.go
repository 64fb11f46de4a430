package affiliate

import (
	"net/http"
	"regexp"
)

// Cookie names carrying the last-touch identity.
const (
	CookieRef   = "affiliate_ref"
	CookieID    = "affiliate_id"
	CookieClick = "affiliate_click"
)

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

// Source is the raw identity carried by a browser cookie or order metadata.
type Source struct {
	AffiliateID string `json:"affiliateId,omitempty"`
	Ref         string `json:"ref,omitempty"`
	LinkID      string `json:"linkId,omitempty"`
	ClickID     string `json:"clickId,omitempty"`
}

// Empty reports whether the source carries no identity at all.
func (s Source) Empty() bool {
	return s.AffiliateID == "" && s.Ref == "" && s.LinkID == "" && s.ClickID == ""
}

// Attribution is a well-formed identity claim. It is not yet checked
// against stored affiliates, links or clicks.
type Attribution struct {
	AffiliateID   string `json:"affiliateId,omitempty"`
	AffiliateCode string `json:"affiliateCode,omitempty"`
	LinkID        string `json:"linkId,omitempty"`
	ClickID       string `json:"clickId,omitempty"`
}

// ResolveAttribution turns a raw source into an attribution claim.
// Malformed values are dropped; nothing usable left means no attribution.
func ResolveAttribution(src Source) (Attribution, bool) {
	att := Attribution{
		AffiliateID:   clean(src.AffiliateID),
		AffiliateCode: clean(src.Ref),
		LinkID:        clean(src.LinkID),
		ClickID:       clean(src.ClickID),
	}
	if att == (Attribution{}) {
		return Attribution{}, false
	}
	return att, true
}

func clean(v string) string {
	if !tokenPattern.MatchString(v) {
		return ""
	}
	return v
}

// SourceFromCookies reads the attribution cookies.
func SourceFromCookies(cookies []*http.Cookie) Source {
	var src Source
	for _, c := range cookies {
		switch c.Name {
		case CookieRef:
			src.Ref = c.Value
		case CookieID:
			src.AffiliateID = c.Value
		case CookieClick:
			src.ClickID = c.Value
		}
	}
	return src
}

// SourceFromCookieHeader parses a raw Cookie header value.
func SourceFromCookieHeader(header string) Source {
	if header == "" {
		return Source{}
	}
	r := http.Request{Header: http.Header{"Cookie": {header}}}
	return SourceFromCookies(r.Cookies())
}

// SourceFromMetadata reads identity written into order metadata at checkout.
func SourceFromMetadata(md map[string]string) Source {
	pick := func(keys ...string) string {
		for _, k := range keys {
			if v := md[k]; v != "" {
				return v
			}
		}
		return ""
	}
	return Source{
		AffiliateID: pick("affiliateId", CookieID),
		Ref:         pick("ref", CookieRef),
		LinkID:      pick("linkId", "affiliate_link"),
		ClickID:     pick("clickId", CookieClick),
	}
}

// FirstSource returns the first source carrying any identity. Sources are
// never mixed so a stale cookie cannot complete a partial metadata claim.
func FirstSource(srcs ...Source) Source {
	for _, s := range srcs {
		if !s.Empty() {
			return s
		}
	}
	return Source{}
}
