// Package channel defines the logical channel model shared by the client
// and server ends of a connection.
//
// A channel is an independently ordered stream of messages multiplexed over
// one transport connection. Both sides must build identical registries; a
// mismatch is detected during the hello exchange and ends the connection
// with a protocol-mismatch disconnect.
package channel

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
)

// ID identifies a channel on the wire. Channel ids are a single byte: the
// datagram path prefixes every payload with one, which caps a registry at
// 256 channels.
type ID uint8

// Kind describes the delivery semantics of a channel.
type Kind uint8

const (
	ReliableOrdered Kind = iota
	ReliableUnordered
	UnreliableSequenced
	Control
)

func (k Kind) String() string {
	switch k {
	case ReliableOrdered:
		return "reliable-ordered"
	case ReliableUnordered:
		return "reliable-unordered"
	case UnreliableSequenced:
		return "unreliable-sequenced"
	case Control:
		return "control"
	default:
		return "unknown"
	}
}

// Descriptor is the full definition of one channel. Descriptors are plain
// values; a transport never mutates them after registry construction.
type Descriptor struct {
	ID       ID
	Kind     Kind
	Label    string
	Priority uint8
	Datagram bool
	// Compress marks payloads on this channel for lz4 packing. Both sides
	// must agree, so the flag participates in the registry hash.
	Compress bool
}

var ErrDuplicateChannel = errors.New("channel: duplicate channel id")

// Registry maps channel ids to descriptors. It is immutable once built.
type Registry struct {
	byID map[ID]Descriptor
}

// NewRegistry builds a registry from the given descriptors. Registering the
// same id twice is rejected rather than silently overwritten, so a
// misconfigured channel list fails at startup instead of on the wire.
func NewRegistry(descs []Descriptor) (*Registry, error) {
	byID := make(map[ID]Descriptor, len(descs))
	for _, d := range descs {
		if _, ok := byID[d.ID]; ok {
			return nil, fmt.Errorf("%w: %d (%q)", ErrDuplicateChannel, d.ID, d.Label)
		}
		byID[d.ID] = d
	}
	return &Registry{byID: byID}, nil
}

// Descriptor returns the descriptor registered under id.
func (r *Registry) Descriptor(id ID) (Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

func (r *Registry) Len() int { return len(r.byID) }

// IDs returns all registered ids in ascending order.
func (r *Registry) IDs() []ID {
	ids := make([]ID, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Hash returns a stable digest of the registry's wire-relevant fields
// (id, kind, datagram and compress flags, in id order). Client and server
// exchange this during the hello so a registry mismatch surfaces as a
// protocol mismatch instead of silent channel confusion. Labels and
// priorities are local concerns and do not participate.
func (r *Registry) Hash() uint64 {
	h := fnv.New64a()
	for _, id := range r.IDs() {
		d := r.byID[id]
		var dg, cp byte
		if d.Datagram {
			dg = 1
		}
		if d.Compress {
			cp = 1
		}
		h.Write([]byte{byte(d.ID), byte(d.Kind), dg, cp})
	}
	return h.Sum64()
}

// Well-known ids of the default registry.
const (
	DefaultReliable  ID = 0
	DefaultUnordered ID = 1
	DefaultDatagram  ID = 2
	DefaultControl   ID = 3
)

// Default returns the standard four-channel registry used by the game.
// It must be byte-for-byte identical on both ends of a connection.
func Default() *Registry {
	r, err := NewRegistry([]Descriptor{
		{ID: DefaultReliable, Kind: ReliableOrdered, Label: "gameplay", Priority: 10},
		{ID: DefaultUnordered, Kind: ReliableUnordered, Label: "bulk", Priority: 5, Compress: true},
		{ID: DefaultDatagram, Kind: UnreliableSequenced, Label: "state", Priority: 1, Datagram: true},
		{ID: DefaultControl, Kind: Control, Label: "control", Priority: 15},
	})
	if err != nil {
		// The default set is a compile-time constant; duplicates here are a bug.
		panic(err)
	}
	return r
}
