package transport

import (
	"errors"
	"testing"

	"github.com/fosgame/fosnet/fosnet/channel"
)

func TestClientHelloCheck(t *testing.T) {
	reg := channel.Default()
	h := NewClientHello(reg, 0)
	if reason, ok := h.Check(reg); !ok {
		t.Fatalf("matching hello rejected: %s", reason)
	}

	bad := h
	bad.Version = ProtocolVersion + 1
	if _, ok := bad.Check(reg); ok {
		t.Fatalf("version mismatch accepted")
	}

	other, err := channel.NewRegistry([]channel.Descriptor{
		{ID: 0, Kind: channel.ReliableOrdered, Label: "only"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if _, ok := h.Check(other); ok {
		t.Fatalf("registry mismatch accepted")
	}
}

func TestErrorKind(t *testing.T) {
	err := Errf(KindNotReady, "send", "transport not started")
	if KindOf(err) != KindNotReady {
		t.Fatalf("KindOf = %v, want KindNotReady", KindOf(err))
	}
	var te *Error
	if !errors.As(err, &te) || te.Op != "send" {
		t.Fatalf("errors.As failed: %v", err)
	}
	if KindOf(errors.New("plain")) != KindOther {
		t.Fatalf("plain error classified as %v", KindOf(errors.New("plain")))
	}
}

func TestDisconnectReasonFromWire(t *testing.T) {
	for r := Graceful; r <= TransportError; r++ {
		if got := DisconnectReasonFromWire(uint8(r)); got != r {
			t.Fatalf("known reason %d mapped to %d", r, got)
		}
	}
	for _, v := range []uint8{6, 0x6F, 0xFF} {
		if got := DisconnectReasonFromWire(v); got != TransportError {
			t.Fatalf("out-of-range %d mapped to %v, want TransportError", v, got)
		}
	}
}
