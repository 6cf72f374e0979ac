package relay

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/fosgame/fosnet/fosnet/transport"
)

var (
	ErrTicketInvalid = errors.New("relay: ticket invalid")
	ErrTicketExpired = errors.New("relay: ticket expired")
)

const (
	TicketKeySize  = chacha20poly1305.KeySize
	TicketLifetime = 24 * time.Hour

	ticketPlainSize = 24 // steamID (8) + issuedAt (8) + expiresAt (8)
)

// Ticket binds a platform identity to an issue window. Clients present a
// sealed ticket during the handshake; the server checks the embedded
// identity against the claimed one before asking the relay to validate.
type Ticket struct {
	SteamID   transport.SteamID
	IssuedAt  int64
	ExpiresAt int64
}

// TicketSealer seals and opens tickets with ChaCha20-Poly1305 under a
// shared key. Nonces are a 32-bit random prefix plus a 64-bit counter, so
// a single sealer never reuses a nonce.
type TicketSealer struct {
	aead   cipher.AEAD
	prefix [4]byte
	seq    atomic.Uint64
}

// NewTicketSealer creates a sealer from a 32-byte shared key.
func NewTicketSealer(key []byte) (*TicketSealer, error) {
	if len(key) != TicketKeySize {
		return nil, errors.New("relay: invalid ticket key size")
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	s := &TicketSealer{aead: aead}
	if _, err := io.ReadFull(rand.Reader, s.prefix[:]); err != nil {
		return nil, err
	}
	return s, nil
}

// Issue seals a fresh ticket for steamID, valid for TicketLifetime.
func (s *TicketSealer) Issue(steamID transport.SteamID) []byte {
	now := time.Now()
	return s.Seal(Ticket{
		SteamID:   steamID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(TicketLifetime).Unix(),
	})
}

// Seal encodes and encrypts a ticket.
// Output: nonce (12 bytes) || ciphertext || tag (16 bytes).
func (s *TicketSealer) Seal(t Ticket) []byte {
	plain := make([]byte, ticketPlainSize)
	binary.BigEndian.PutUint64(plain[0:8], uint64(t.SteamID))
	binary.BigEndian.PutUint64(plain[8:16], uint64(t.IssuedAt))
	binary.BigEndian.PutUint64(plain[16:24], uint64(t.ExpiresAt))

	nonce := s.nextNonce()
	out := make([]byte, len(nonce), len(nonce)+ticketPlainSize+s.aead.Overhead())
	copy(out, nonce)
	return s.aead.Seal(out, nonce, plain, nil)
}

// Open decrypts and validates a sealed ticket. Tampered or truncated data
// reports ErrTicketInvalid; a ticket past its window reports
// ErrTicketExpired.
func (s *TicketSealer) Open(data []byte) (Ticket, error) {
	nonceSize := chacha20poly1305.NonceSize
	if len(data) < nonceSize+ticketPlainSize+s.aead.Overhead() {
		return Ticket{}, ErrTicketInvalid
	}
	plain, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil || len(plain) != ticketPlainSize {
		return Ticket{}, ErrTicketInvalid
	}

	t := Ticket{
		SteamID:   transport.SteamID(binary.BigEndian.Uint64(plain[0:8])),
		IssuedAt:  int64(binary.BigEndian.Uint64(plain[8:16])),
		ExpiresAt: int64(binary.BigEndian.Uint64(plain[16:24])),
	}
	if time.Now().Unix() > t.ExpiresAt {
		return Ticket{}, ErrTicketExpired
	}
	return t, nil
}

func (s *TicketSealer) nextNonce() []byte {
	seq := s.seq.Add(1)
	nonce := make([]byte, chacha20poly1305.NonceSize)
	copy(nonce[:4], s.prefix[:])
	binary.BigEndian.PutUint64(nonce[4:], seq)
	return nonce
}
