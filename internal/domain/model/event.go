// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// EventMetadata is the display information of an event. It also becomes the
// on-chain metadata of every token minted for the event.
type EventMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Organizer   string `json:"organizer"`
	Date        string `json:"date"`
}

// Validate checks the fields required to mint tokens for the event.
func (m EventMetadata) Validate() error {
	const op = "model.event_metadata.validate"
	switch {
	case strings.TrimSpace(m.Name) == "":
		return NewKindMsg(op, ErrInvalidInput, "missing name")
	case strings.TrimSpace(m.Organizer) == "":
		return NewKindMsg(op, ErrInvalidInput, "missing organizer")
	case len(m.Name) > MaxNameLength:
		return NewKindMsg(op, ErrInvalidInput, "name too long")
	case len(m.Image) > MaxURILength:
		return NewKindMsg(op, ErrInvalidInput, "image reference too long")
	}
	return nil
}

// Limits imposed by the token metadata layout.
const (
	MaxNameLength   = 32
	MaxSymbolLength = 10
	MaxURILength    = 200
)

// TreeState is the provisioning state of a storage tree.
type TreeState string

// Tree states.
const (
	TreePending TreeState = "pending"
	TreeReady   TreeState = "ready"
	TreeFailed  TreeState = "failed"
)

// TreeParams are the shape parameters of a compressed-storage tree.
type TreeParams struct {
	MaxDepth      int `json:"max_depth"`
	MaxBufferSize int `json:"max_buffer_size"`
	Capacity      int `json:"capacity"` // 2^MaxDepth leaves
}

// TreeRef is the handle of the storage tree owned by one event.
type TreeRef struct {
	Address   string     `json:"address,omitempty"`
	Params    TreeParams `json:"params"`
	State     TreeState  `json:"state"`
	Signature string     `json:"signature,omitempty"` // creation transaction
	Error     string     `json:"error,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Ready reports whether tokens can be minted into the tree.
func (t TreeRef) Ready() bool {
	return t.State == TreeReady && t.Address != ""
}

// Event is a proof-of-participation event. Tree is set at creation and never
// reassigned afterwards; only the claim counters move.
type Event struct {
	ID        string        `json:"event_id"`
	Metadata  EventMetadata `json:"metadata"`
	MaxSupply int           `json:"max_supply"`
	Tree      TreeRef       `json:"tree"`
	Issued    int           `json:"issued"`
	Minted    int           `json:"minted"`
	CreatedAt time.Time     `json:"created_at"`
}

// MintLimit is the number of successful mints the event may ever reach:
// the smaller of its declared supply and its tree capacity.
func (e Event) MintLimit() int {
	if e.Tree.Params.Capacity > 0 && e.Tree.Params.Capacity < e.MaxSupply {
		return e.Tree.Params.Capacity
	}
	return e.MaxSupply
}

// Remaining returns how many more tokens can be minted.
func (e Event) Remaining() int {
	r := e.MintLimit() - e.Minted
	if r < 0 {
		return 0
	}
	return r
}
