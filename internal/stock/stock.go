// Package stock is the per (outlet, event, pass) inventory ledger and the only
// place sold quantities change.
package stock

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound   = errors.New("stock entry not found")
	ErrDuplicate  = errors.New("stock entry already exists")
	ErrOutOfStock = errors.New("out of stock")
	ErrInvariant  = errors.New("sold_quantity cannot exceed max_quantity")
)

type Key struct {
	OutletID string `json:"outlet_id"`
	EventID  string `json:"event_id"`
	PassID   string `json:"pass_id"`
}

type Entry struct {
	ID           string    `json:"id"`
	OutletID     string    `json:"outlet_id"`
	EventID      string    `json:"event_id"`
	PassID       string    `json:"pass_id"`
	MaxQuantity  *int      `json:"max_quantity"`
	SoldQuantity int       `json:"sold_quantity"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (e Entry) Key() Key {
	return Key{OutletID: e.OutletID, EventID: e.EventID, PassID: e.PassID}
}

// Remaining is nil when the entry is unlimited.
func (e Entry) Remaining() *int {
	if e.MaxQuantity == nil {
		return nil
	}
	r := *e.MaxQuantity - e.SoldQuantity
	if r < 0 {
		r = 0
	}
	return &r
}

// CanReserve reports whether qty more units fit under the cap.
func (e Entry) CanReserve(qty int) bool {
	if !e.IsActive {
		return false
	}
	return e.MaxQuantity == nil || e.SoldQuantity+qty <= *e.MaxQuantity
}

func validQuantities(max *int, sold int) bool {
	return max == nil || sold <= *max
}

// OptionalInt distinguishes an absent JSON field from an explicit null.
type OptionalInt struct {
	Set   bool
	Value *int
}

func (o *OptionalInt) UnmarshalJSON(b []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v int
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

type Patch struct {
	MaxQuantity  OptionalInt
	SoldQuantity *int
	IsActive     *bool
}

func (p Patch) Empty() bool {
	return !p.MaxQuantity.Set && p.SoldQuantity == nil && p.IsActive == nil
}

// Apply returns e with p applied. A field not being patched keeps its stored
// value, and the invariant is checked against the combination.
func (p Patch) Apply(e Entry) (Entry, error) {
	if p.MaxQuantity.Set {
		e.MaxQuantity = p.MaxQuantity.Value
	}
	if p.SoldQuantity != nil {
		e.SoldQuantity = *p.SoldQuantity
	}
	if p.IsActive != nil {
		e.IsActive = *p.IsActive
	}
	if !validQuantities(e.MaxQuantity, e.SoldQuantity) {
		return Entry{}, ErrInvariant
	}
	return e, nil
}

// Details renders the fields recorded in audit payloads.
func (e Entry) Details() map[string]any {
	return map[string]any{
		"max_quantity":  e.MaxQuantity,
		"sold_quantity": e.SoldQuantity,
		"is_active":     e.IsActive,
	}
}
