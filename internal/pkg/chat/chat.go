// Package chat implements the ordered, deduplicated chat stream. It shares
// the wraparound ID discipline of the entity event channel but runs on its
// own ID stream. Order messages carry indices into a catalog both sides
// know identically instead of free text.
package chat

import (
	"fathom/internal/pkg/registry"
	"fathom/internal/pkg/sequence"

	"github.com/pkg/errors"
)

// MessageType discriminates the envelope variants.
type MessageType byte

const (
	TypeDefault MessageType = iota
	TypeServer
	TypeRadio
	TypeDead
	TypeOrder
)

func (t MessageType) String() string {
	switch t {
	case TypeDefault:
		return "default"
	case TypeServer:
		return "server"
	case TypeRadio:
		return "radio"
	case TypeDead:
		return "dead"
	case TypeOrder:
		return "order"
	}
	return "unknown"
}

// MaxPerPacket caps how many queued messages one packet flush may carry.
const MaxPerPacket = 10

// MaxTextLength caps a message's text so a single envelope always fits
// the packet budget next to the rest of the update.
const MaxTextLength = 200

// ErrBadOrderIndex is a protocol error: an order or option index outside
// the shared catalog.
var ErrBadOrderIndex = errors.New("order index out of catalog range")

// ErrTextTooLong is a protocol error: message text above MaxTextLength.
var ErrTextTooLong = errors.New("chat text too long")

// Envelope is one chat message. Order-type envelopes use the index fields
// and carry no text.
type Envelope struct {
	ID           sequence.ID
	Type         MessageType
	Text         string
	SenderName   string
	SenderEntity registry.EntityID

	OrderIndex   uint16
	OptionIndex  uint16
	TargetEntity registry.EntityID
}

// OrderDefinition is one entry of the shared order catalog.
type OrderDefinition struct {
	Name    string
	Options []string
}

// Catalog is the statically ordered list of order definitions. Both peers
// must construct it identically for indices to resolve.
type Catalog []OrderDefinition

// Validate bounds-checks an order/option index pair.
func (c Catalog) Validate(orderIndex, optionIndex uint16) error {
	if int(orderIndex) >= len(c) {
		return errors.Wrapf(ErrBadOrderIndex, "order %d of %d", orderIndex, len(c))
	}
	if n := len(c[orderIndex].Options); n > 0 && int(optionIndex) >= n {
		return errors.Wrapf(ErrBadOrderIndex, "option %d of %d", optionIndex, n)
	}
	return nil
}

// DefaultCatalog mirrors the order prefabs the simulation ships with.
func DefaultCatalog() Catalog {
	return Catalog{
		{Name: "follow"},
		{Name: "dismiss"},
		{Name: "wait"},
		{Name: "operate-reactor", Options: []string{"power-up", "shutdown"}},
		{Name: "steer", Options: []string{"maintain-position", "navigate-to-destination"}},
		{Name: "repair-systems", Options: []string{"all", "mechanical", "electrical"}},
		{Name: "fight-intruders"},
		{Name: "extinguish-fires"},
	}
}
