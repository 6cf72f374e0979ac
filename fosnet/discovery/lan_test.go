package discovery

import (
	"errors"
	"reflect"
	"testing"

	"github.com/fosgame/fosnet/fosnet/wire"
)

func TestAnnouncementRoundTrip(t *testing.T) {
	cases := []Announcement{
		{Version: 1, Port: 27000},
		{Version: 1, Port: 27000, ServerName: "forest"},
		{Version: 2, Port: 443, ServerName: "forest", Players: &PlayerCount{Current: 3, Max: 8}},
		{Version: 1, Port: 27000, Flags: AnnouncementFlags{SteamRelay: true}},
		{Version: 1, Port: 27000, Players: &PlayerCount{}, Flags: AnnouncementFlags{WANEndpoint: true}},
	}
	for i, want := range cases {
		buf, err := want.Encode()
		if err != nil {
			t.Fatalf("case %d: Encode: %v", i, err)
		}
		got, err := DecodeAnnouncement(buf)
		if err != nil {
			t.Fatalf("case %d: Decode: %v", i, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("case %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestAnnouncementMagicRejected(t *testing.T) {
	// A valid body under the wrong magic must fail with ErrInvalidMagic,
	// not a parse error.
	buf, err := (Announcement{Version: 1, Port: 27000}).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf[0] ^= 0x01
	if _, err := DecodeAnnouncement(buf); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("err = %v, want ErrInvalidMagic", err)
	}

	if _, err := DecodeAnnouncement([]byte("FOS")); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("short buffer: err = %v, want ErrInvalidMagic", err)
	}
	if _, err := DecodeAnnouncement(nil); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("nil buffer: err = %v, want ErrInvalidMagic", err)
	}
}

func TestAnnouncementCorruptBody(t *testing.T) {
	buf := append([]byte{}, Magic[:]...)
	buf = append(buf, 0xFF, 0xFF, 0xFF)
	_, err := DecodeAnnouncement(buf)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if errors.Is(err, ErrInvalidMagic) {
		t.Fatal("corrupt body misreported as invalid magic")
	}
}

func TestAnnouncementBodyIsCBOR(t *testing.T) {
	want := Announcement{Version: 1, Port: 27000, ServerName: "x"}
	buf, err := want.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var got Announcement
	if err := wire.CBOR().Unmarshal(buf[len(Magic):], &got); err != nil {
		t.Fatalf("body not CBOR: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
