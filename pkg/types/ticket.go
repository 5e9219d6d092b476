package types

import (
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// ticketPrefix starts the text form of every document ticket.
const ticketPrefix = "doc"

var (
	ticketEncMode cbor.EncMode
	ticketDecMode cbor.DecMode
)

func init() {
	var err error
	ticketEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("types: ticket cbor encoder: " + err.Error())
	}
	ticketDecMode, err = cbor.DecOptions{
		MaxArrayElements: 1024,
	}.DecMode()
	if err != nil {
		panic("types: ticket cbor decoder: " + err.Error())
	}
}

// NodeAddr names a store node and the addresses it can be reached at.
type NodeAddr struct {
	ID    uuid.UUID
	Addrs []string
}

// Ticket is a shareable namespace capability plus the nodes that hold it.
type Ticket struct {
	Capability Capability
	Nodes      []NodeAddr
}

type ticketWire struct {
	Kind  uint8      `cbor:"1,keyasint"`
	Key   []byte     `cbor:"2,keyasint"`
	Nodes []nodeWire `cbor:"3,keyasint,omitempty"`
}

type nodeWire struct {
	ID    []byte   `cbor:"1,keyasint"`
	Addrs []string `cbor:"2,keyasint,omitempty"`
}

// MarshalBinary encodes the ticket as deterministic CBOR.
func (t Ticket) MarshalBinary() ([]byte, error) {
	w := ticketWire{Kind: uint8(t.Capability.Kind)}
	switch t.Capability.Kind {
	case CapabilityWrite:
		w.Key = t.Capability.Secret[:]
	case CapabilityRead:
		w.Key = t.Capability.NS[:]
	default:
		return nil, fmt.Errorf("%w: ticket capability kind %d", ErrInvalidFormat, t.Capability.Kind)
	}
	for _, n := range t.Nodes {
		id := n.ID
		w.Nodes = append(w.Nodes, nodeWire{ID: id[:], Addrs: n.Addrs})
	}
	return ticketEncMode.Marshal(w)
}

// UnmarshalBinary decodes the CBOR form written by MarshalBinary.
func (t *Ticket) UnmarshalBinary(data []byte) error {
	var w ticketWire
	if err := ticketDecMode.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: ticket: %v", ErrInvalidFormat, err)
	}
	var out Ticket
	switch CapabilityKind(w.Kind) {
	case CapabilityWrite:
		secret, err := from32("ticket namespace secret", w.Key)
		if err != nil {
			return err
		}
		out.Capability = WriteCapability(NamespaceSecret(secret))
	case CapabilityRead:
		id, err := NamespaceIDFromBytes(w.Key)
		if err != nil {
			return err
		}
		out.Capability = ReadCapability(id)
	default:
		return fmt.Errorf("%w: ticket capability kind %d", ErrInvalidFormat, w.Kind)
	}
	for _, n := range w.Nodes {
		id, err := uuid.FromBytes(n.ID)
		if err != nil {
			return fmt.Errorf("%w: ticket node id: %v", ErrInvalidFormat, err)
		}
		out.Nodes = append(out.Nodes, NodeAddr{ID: id, Addrs: n.Addrs})
	}
	*t = out
	return nil
}

// String renders the ticket as "doc" followed by the base32 CBOR encoding.
func (t Ticket) String() string {
	raw, err := t.MarshalBinary()
	if err != nil {
		return ""
	}
	return ticketPrefix + encodeBase32(raw)
}

// MarshalText returns the prefixed base32 form. Unlike String it reports
// encoding errors.
func (t Ticket) MarshalText() ([]byte, error) {
	raw, err := t.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return []byte(ticketPrefix + encodeBase32(raw)), nil
}

// UnmarshalText parses a ticket with ParseTicket.
func (t *Ticket) UnmarshalText(text []byte) error {
	parsed, err := ParseTicket(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTicket parses the text form of a document ticket.
func ParseTicket(s string) (Ticket, error) {
	s = strings.TrimSpace(s)
	body, ok := strings.CutPrefix(strings.ToLower(s), ticketPrefix)
	if !ok {
		return Ticket{}, fmt.Errorf("%w: ticket must start with %q", ErrInvalidFormat, ticketPrefix)
	}
	raw, err := b32.DecodeString(strings.ToUpper(body))
	if err != nil {
		return Ticket{}, fmt.Errorf("%w: ticket: %v", ErrInvalidFormat, err)
	}
	var t Ticket
	if err := t.UnmarshalBinary(raw); err != nil {
		return Ticket{}, err
	}
	return t, nil
}
