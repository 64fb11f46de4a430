package models

import (
	"errors"
	"time"
)

// ===========================================
// CLICK RECORD
// ===========================================

// ClickRecord is one tracked redirect through an affiliate link.
// It is mutated only when a conversion is attributed to it.
type ClickRecord struct {
	ID          string    `json:"id"`
	AffiliateID string    `json:"affiliateId"`
	LinkID      string    `json:"linkId"`
	Timestamp   time.Time `json:"timestamp"`

	// Request metadata
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
	Country   string `json:"country,omitempty"` // ISO code from GeoIP

	// Conversion
	Converted           bool       `json:"converted"`
	ConversionValue     *float64   `json:"conversionValue,omitempty"`
	ConversionTimestamp *time.Time `json:"conversionTimestamp,omitempty"`
}

// Validate checks the record shape as read from storage.
func (c *ClickRecord) Validate() error {
	if c.ID == "" {
		return errors.New("click: missing id")
	}
	if c.AffiliateID == "" {
		return errors.New("click: missing affiliateId")
	}
	if c.Timestamp.IsZero() {
		return errors.New("click: missing timestamp")
	}
	if c.Converted && c.ConversionValue == nil {
		return errors.New("click: converted without conversionValue")
	}
	if c.ConversionValue != nil && *c.ConversionValue < 0 {
		return errors.New("click: negative conversionValue")
	}
	return nil
}

// Value returns the conversion value or zero when the click has not converted.
func (c *ClickRecord) Value() float64 {
	if !c.Converted || c.ConversionValue == nil {
		return 0
	}
	return *c.ConversionValue
}

// ===========================================
// AFFILIATE LINK
// ===========================================

// AffiliateLink is a generated short link owned by one affiliate.
type AffiliateLink struct {
	ID          string    `json:"id"`
	AffiliateID string    `json:"affiliateId"`
	Code        string    `json:"code"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"createdAt"`
	Clicks      int64     `json:"clicks"`
	Conversions int64     `json:"conversions"`
}

func (l *AffiliateLink) Validate() error {
	if l.ID == "" || l.AffiliateID == "" || l.Code == "" {
		return errors.New("link: missing id, affiliateId or code")
	}
	if l.Clicks < 0 || l.Conversions < 0 {
		return errors.New("link: negative counters")
	}
	return nil
}
