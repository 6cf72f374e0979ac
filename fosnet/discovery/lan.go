// Package discovery finds game servers two independent ways: a LAN UDP
// broadcast with a magic-prefixed announcement, and a relay lobby
// controller that bridges platform lobby callbacks into a uniform event
// stream.
package discovery

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fosgame/fosnet/fosnet/wire"
)

// Magic prefixes every LAN announcement datagram. A listener checks it
// byte-for-byte before spending any CPU on deserialization, so foreign
// broadcast traffic on a shared network is discarded cheaply.
var Magic = [8]byte{'F', 'O', 'S', 'D', 'I', 'S', 'C', '1'}

// ErrInvalidMagic means the datagram is not ours. Distinct from a decode
// error so listeners can drop foreign traffic silently but still log
// corrupt announcements from our own magic.
var ErrInvalidMagic = errors.New("discovery: invalid magic")

// PlayerCount is the optional occupancy part of an announcement.
type PlayerCount struct {
	Current uint16 `cbor:"1,keyasint"`
	Max     uint16 `cbor:"2,keyasint"`
}

// AnnouncementFlags describes how the server can be reached beyond the
// LAN.
type AnnouncementFlags struct {
	SteamRelay  bool `cbor:"1,keyasint,omitempty"`
	WANEndpoint bool `cbor:"2,keyasint,omitempty"`
}

// Announcement is one LAN broadcast payload.
type Announcement struct {
	Version    uint16            `cbor:"1,keyasint"`
	Port       uint16            `cbor:"2,keyasint"`
	ServerName string            `cbor:"3,keyasint,omitempty"`
	Players    *PlayerCount      `cbor:"4,keyasint,omitempty"`
	Flags      AnnouncementFlags `cbor:"5,keyasint,omitempty"`
}

// Encode builds the wire form: magic followed by the CBOR body.
func (a Announcement) Encode() ([]byte, error) {
	body, err := wire.CBOR().Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("discovery: encode announcement: %w", err)
	}
	buf := make([]byte, len(Magic)+len(body))
	copy(buf, Magic[:])
	copy(buf[len(Magic):], body)
	return buf, nil
}

// DecodeAnnouncement parses a datagram. The magic is verified before any
// deserialization; a mismatch reports ErrInvalidMagic even when the rest
// of the buffer would decode.
func DecodeAnnouncement(data []byte) (Announcement, error) {
	if len(data) < len(Magic) || !bytes.Equal(data[:len(Magic)], Magic[:]) {
		return Announcement{}, ErrInvalidMagic
	}
	var a Announcement
	if err := wire.CBOR().Unmarshal(data[len(Magic):], &a); err != nil {
		return Announcement{}, fmt.Errorf("discovery: decode announcement: %w", err)
	}
	return a, nil
}
