package loopback

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/fosgame/fosnet/fosnet/channel"
	"github.com/fosgame/fosnet/fosnet/transport"
)

func newConnectedPair(t *testing.T) (*Client, *Server, *transport.Queue[transport.ClientEvent], *transport.Queue[transport.Event]) {
	t.Helper()
	cli, srv := NewPair()
	srvSink := transport.NewQueue[transport.Event]()
	cliSink := transport.NewQueue[transport.ClientEvent]()
	if err := srv.Start(srvSink); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := cli.Connect(transport.LoopbackTarget{}, cliSink); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return cli, srv, cliSink, srvSink
}

func TestConnectBeforeStartFails(t *testing.T) {
	cli, _ := NewPair()
	err := cli.Connect(transport.LoopbackTarget{}, transport.NewQueue[transport.ClientEvent]())
	if transport.KindOf(err) != transport.KindNotReady {
		t.Fatalf("expected NotReady, got %v", err)
	}
}

func TestConnectEmitsBothEvents(t *testing.T) {
	_, _, cliSink, srvSink := newConnectedPair(t)

	cliEvents := cliSink.Drain()
	if len(cliEvents) != 1 {
		t.Fatalf("client saw %d events, want 1", len(cliEvents))
	}
	if ev, ok := cliEvents[0].(transport.Connected); !ok || ev.Client == 0 {
		t.Fatalf("client event = %#v, want Connected with a synthetic id", cliEvents[0])
	}

	srvEvents := srvSink.Drain()
	if len(srvEvents) != 1 {
		t.Fatalf("server saw %d events, want 1", len(srvEvents))
	}
	if ev, ok := srvEvents[0].(transport.PeerConnected); !ok || ev.Client != ClientID {
		t.Fatalf("server event = %#v, want PeerConnected{%d}", srvEvents[0], ClientID)
	}
}

func TestHelloScenario(t *testing.T) {
	cli, _, _, srvSink := newConnectedPair(t)
	srvSink.Drain() // consume PeerConnected

	err := cli.Send(transport.OutgoingMessage{Channel: 0, Payload: []byte("hello")})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	events := srvSink.Drain()
	if len(events) != 1 {
		t.Fatalf("server poll yielded %d events, want exactly 1", len(events))
	}
	msg, ok := events[0].(transport.PeerMessage)
	if !ok {
		t.Fatalf("event = %#v, want PeerMessage", events[0])
	}
	if msg.Channel != 0 || !bytes.Equal(msg.Payload, []byte("hello")) {
		t.Fatalf("message = %+v", msg)
	}
}

func TestInterleavedOrdering(t *testing.T) {
	cli, srv, cliSink, srvSink := newConnectedPair(t)
	cliSink.Drain()
	srvSink.Drain()

	const n = 50
	reg := channel.Default()
	ids := reg.IDs()
	for i := 0; i < n; i++ {
		ch := ids[i%len(ids)]
		c2s := []byte(fmt.Sprintf("c%d", i))
		s2c := []byte(fmt.Sprintf("s%d", i))
		if err := cli.Send(transport.OutgoingMessage{Channel: ch, Payload: c2s}); err != nil {
			t.Fatalf("client send %d: %v", i, err)
		}
		if err := srv.Send(ClientID, transport.OutgoingMessage{Channel: ch, Payload: s2c}); err != nil {
			t.Fatalf("server send %d: %v", i, err)
		}
	}

	srvEvents := srvSink.Drain()
	if len(srvEvents) != n {
		t.Fatalf("server saw %d events, want %d", len(srvEvents), n)
	}
	for i, ev := range srvEvents {
		msg := ev.(transport.PeerMessage)
		want := fmt.Sprintf("c%d", i)
		if string(msg.Payload) != want {
			t.Fatalf("server event %d = %q, want %q", i, msg.Payload, want)
		}
	}

	cliEvents := cliSink.Drain()
	if len(cliEvents) != n {
		t.Fatalf("client saw %d events, want %d", len(cliEvents), n)
	}
	for i, ev := range cliEvents {
		msg := ev.(transport.Message)
		want := fmt.Sprintf("s%d", i)
		if string(msg.Payload) != want {
			t.Fatalf("client event %d = %q, want %q", i, msg.Payload, want)
		}
	}
}

func TestDatagramDelivery(t *testing.T) {
	cli, srv, cliSink, srvSink := newConnectedPair(t)
	cliSink.Drain()
	srvSink.Drain()

	if err := cli.SendDatagram([]byte("up")); err != nil {
		t.Fatalf("client SendDatagram: %v", err)
	}
	if err := srv.SendDatagram(ClientID, []byte("down")); err != nil {
		t.Fatalf("server SendDatagram: %v", err)
	}

	srvEvents := srvSink.Drain()
	if len(srvEvents) != 1 {
		t.Fatalf("server saw %d events, want 1", len(srvEvents))
	}
	if dg := srvEvents[0].(transport.PeerDatagram); string(dg.Payload) != "up" {
		t.Fatalf("server datagram = %q", dg.Payload)
	}
	cliEvents := cliSink.Drain()
	if len(cliEvents) != 1 {
		t.Fatalf("client saw %d events, want 1", len(cliEvents))
	}
	if dg := cliEvents[0].(transport.Datagram); string(dg.Payload) != "down" {
		t.Fatalf("client datagram = %q", dg.Payload)
	}
}

func TestDisconnectPropagatesExactlyOnce(t *testing.T) {
	cli, _, cliSink, srvSink := newConnectedPair(t)
	cliSink.Drain()
	srvSink.Drain()

	if err := cli.Disconnect(transport.Graceful); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	// A second disconnect from either side must not produce more events.
	if err := cli.Disconnect(transport.Graceful); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}

	cliEvents := cliSink.Drain()
	if len(cliEvents) != 1 {
		t.Fatalf("client saw %d disconnect events, want 1", len(cliEvents))
	}
	if ev := cliEvents[0].(transport.Disconnected); ev.Reason != transport.Graceful {
		t.Fatalf("client reason = %v", ev.Reason)
	}

	srvEvents := srvSink.Drain()
	if len(srvEvents) != 1 {
		t.Fatalf("server saw %d disconnect events, want 1", len(srvEvents))
	}
	ev := srvEvents[0].(transport.PeerDisconnected)
	if ev.Client != ClientID || ev.Reason != transport.Graceful {
		t.Fatalf("server event = %+v", ev)
	}

	// Sends after disconnect fail.
	if err := cli.Send(transport.OutgoingMessage{Channel: 0}); transport.KindOf(err) != transport.KindNotReady {
		t.Fatalf("send after disconnect: %v", err)
	}
}

func TestServerStopDisconnectsClient(t *testing.T) {
	_, srv, cliSink, srvSink := newConnectedPair(t)
	cliSink.Drain()
	srvSink.Drain()

	srv.Stop()

	cliEvents := cliSink.Drain()
	if len(cliEvents) != 1 {
		t.Fatalf("client saw %d events, want 1", len(cliEvents))
	}
	if ev := cliEvents[0].(transport.Disconnected); ev.Reason != transport.Graceful {
		t.Fatalf("reason = %v", ev.Reason)
	}
}

func TestServerKick(t *testing.T) {
	_, srv, cliSink, srvSink := newConnectedPair(t)
	cliSink.Drain()
	srvSink.Drain()

	if err := srv.Disconnect(ClientID, transport.Kicked); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	ev := cliSink.Drain()[0].(transport.Disconnected)
	if ev.Reason != transport.Kicked {
		t.Fatalf("reason = %v, want Kicked", ev.Reason)
	}
}
