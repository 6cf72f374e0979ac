package relay

import (
	"bytes"
	"crypto/rand"
	"testing"
	"time"

	"github.com/fosgame/fosnet/fosnet/transport"
)

func newSealer(t *testing.T) *TicketSealer {
	t.Helper()
	key := make([]byte, TicketKeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	s, err := NewTicketSealer(key)
	if err != nil {
		t.Fatalf("NewTicketSealer: %v", err)
	}
	return s
}

func TestTicketRoundTrip(t *testing.T) {
	s := newSealer(t)
	sealed := s.Issue(transport.SteamID(7777))

	got, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got.SteamID != 7777 {
		t.Fatalf("steam id = %d, want 7777", got.SteamID)
	}
	if got.ExpiresAt-got.IssuedAt != int64(TicketLifetime/time.Second) {
		t.Fatalf("lifetime = %d seconds", got.ExpiresAt-got.IssuedAt)
	}
}

func TestTicketTamperRejected(t *testing.T) {
	s := newSealer(t)
	sealed := s.Issue(42)

	for _, i := range []int{0, 13, len(sealed) - 1} {
		bad := bytes.Clone(sealed)
		bad[i] ^= 0x01
		if _, err := s.Open(bad); err != ErrTicketInvalid {
			t.Fatalf("flip byte %d: err = %v, want ErrTicketInvalid", i, err)
		}
	}
	if _, err := s.Open(sealed[:10]); err != ErrTicketInvalid {
		t.Fatalf("truncated: err = %v, want ErrTicketInvalid", err)
	}
}

func TestTicketExpired(t *testing.T) {
	s := newSealer(t)
	sealed := s.Seal(Ticket{
		SteamID:   42,
		IssuedAt:  time.Now().Add(-48 * time.Hour).Unix(),
		ExpiresAt: time.Now().Add(-24 * time.Hour).Unix(),
	})
	if _, err := s.Open(sealed); err != ErrTicketExpired {
		t.Fatalf("err = %v, want ErrTicketExpired", err)
	}
}

func TestTicketDifferentKeyRejected(t *testing.T) {
	sealed := newSealer(t).Issue(42)
	if _, err := newSealer(t).Open(sealed); err != ErrTicketInvalid {
		t.Fatalf("err = %v, want ErrTicketInvalid", err)
	}
}

func TestTicketKeySizeChecked(t *testing.T) {
	if _, err := NewTicketSealer(make([]byte, 16)); err == nil {
		t.Fatal("expected error for short key")
	}
}
