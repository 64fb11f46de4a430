// Package archive ships click and conversion events to an analytics store
// off the request path. Delivery is best effort.
package archive

import (
	"time"
)

// Event types.
const (
	EventClick      = "click"
	EventConversion = "conversion"
)

// Event is one archived tracking event.
type Event struct {
	Type        string
	ClickID     string
	AffiliateID string
	LinkID      string
	Country     string
	Value       float64
	Timestamp   time.Time
}

// Sink accepts events. Offer never blocks.
type Sink interface {
	Offer(e Event)
	Close() error
}

// NoopSink discards every event.
type NoopSink struct{}

func (NoopSink) Offer(Event)  {}
func (NoopSink) Close() error { return nil }
