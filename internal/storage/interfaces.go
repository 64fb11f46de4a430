package storage

import (
	"context"
	"encoding/json"
	"errors"
)

// Kind names a document collection.
type Kind string

const (
	KindClick      Kind = "clicks"
	KindLink       Kind = "links"
	KindAffiliate  Kind = "affiliates"
	KindRule       Kind = "commissionRules"
	KindCommission Kind = "commissions"
	KindAdjustment Kind = "commissionAdjustments"
	KindSettlement Kind = "settlements"
)

// ErrClosed is returned by backends after Close.
var ErrClosed = errors.New("storage: backend closed")

// Document is one stored JSON record.
//
// Owner is the affiliate id the document belongs to (empty for global
// documents such as rules). Ref is an optional secondary key: the link code
// for links, the order id for adjustments.
type Document struct {
	Kind  Kind            `json:"-"`
	ID    string          `json:"-"`
	Owner string          `json:"owner,omitempty"`
	Ref   string          `json:"ref,omitempty"`
	Body  json.RawMessage `json:"body"`
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Owner string
	Ref   string
}

func (f Filter) match(d Document) bool {
	if f.Owner != "" && d.Owner != f.Owner {
		return false
	}
	if f.Ref != "" && d.Ref != f.Ref {
		return false
	}
	return true
}

// Tx is a unit of work against a backend. List returns documents ordered by id.
type Tx interface {
	Get(ctx context.Context, kind Kind, id string) (Document, bool, error)
	Put(ctx context.Context, doc Document) error
	Delete(ctx context.Context, kind Kind, id string) error
	List(ctx context.Context, kind Kind, filter Filter) ([]Document, error)
}

// Backend persists documents.
//
// Update runs fn inside the backend's single-writer critical section; all
// writes made by fn become visible atomically when fn returns nil and are
// discarded otherwise. View runs fn against a consistent snapshot and may run
// concurrently with Update.
type Backend interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Name() string
	Close() error
}
