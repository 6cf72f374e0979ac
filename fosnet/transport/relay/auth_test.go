package relay

import (
	"sync"
	"testing"

	"github.com/fosgame/fosnet/fosnet/transport"
)

// recordingBackend records auth calls and delivers nothing; validator
// tests feed responses in by hand.
type recordingBackend struct {
	Disabled

	mu    sync.Mutex
	begun []transport.SteamID
	ended []transport.SteamID
}

func (b *recordingBackend) BeginAuthSession(_ []byte, peer transport.SteamID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.begun = append(b.begun, peer)
	return nil
}

func (b *recordingBackend) EndAuthSession(peer transport.SteamID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ended = append(b.ended, peer)
}

func (b *recordingBackend) beginCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.begun)
}

func (b *recordingBackend) endCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ended)
}

func TestValidatorLifecycle(t *testing.T) {
	be := &recordingBackend{}
	v := NewValidator(be, nil)

	if err := v.Begin(1, 100, []byte("ticket")); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if !v.Pending(100) || v.Active(100) {
		t.Fatal("expected pending, not active")
	}

	out, ok := v.HandleResponse(AuthResponse{Peer: 100, Owner: 100, Result: AuthOK})
	if !ok {
		t.Fatal("response not matched")
	}
	if out.Err != nil {
		t.Fatalf("outcome err = %v", out.Err)
	}
	if out.Client != 1 {
		t.Fatalf("outcome client = %d, want 1", out.Client)
	}
	if v.Pending(100) || !v.Active(100) {
		t.Fatal("expected active, not pending")
	}

	v.EndSession(100)
	if v.Active(100) {
		t.Fatal("still active after EndSession")
	}
	if be.endCount() != 1 {
		t.Fatalf("EndAuthSession calls = %d, want 1", be.endCount())
	}
	// Idempotent: a second end must not reach the backend again.
	v.EndSession(100)
	if be.endCount() != 1 {
		t.Fatalf("EndAuthSession calls after repeat = %d, want 1", be.endCount())
	}
}

func TestValidatorDuplicatePendingRejectedLocally(t *testing.T) {
	be := &recordingBackend{}
	v := NewValidator(be, nil)

	if err := v.Begin(1, 100, []byte("ticket")); err != nil {
		t.Fatalf("first Begin: %v", err)
	}
	err := v.Begin(2, 100, []byte("ticket"))
	if err == nil {
		t.Fatal("expected second Begin to fail")
	}
	if transport.KindOf(err) != transport.KindAuthValidation {
		t.Fatalf("kind = %v, want AuthValidation", transport.KindOf(err))
	}
	if be.beginCount() != 1 {
		t.Fatalf("backend contacted %d times, want 1", be.beginCount())
	}
}

func TestValidatorBeginWhileActiveForwards(t *testing.T) {
	be := &recordingBackend{}
	v := NewValidator(be, nil)

	if err := v.Begin(1, 100, []byte("ticket")); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, ok := v.HandleResponse(AuthResponse{Peer: 100, Owner: 100, Result: AuthOK}); !ok {
		t.Fatal("response not matched")
	}

	// A stale session is re-validated through the relay, which answers
	// with a duplicate verdict. That counts as success and the session
	// stays active.
	if err := v.Begin(1, 100, []byte("ticket")); err != nil {
		t.Fatalf("Begin while active: %v", err)
	}
	if be.beginCount() != 2 {
		t.Fatalf("backend contacted %d times, want 2", be.beginCount())
	}
	out, ok := v.HandleResponse(AuthResponse{Peer: 100, Owner: 100, Result: AuthDuplicateRequest})
	if !ok || out.Err != nil {
		t.Fatalf("duplicate verdict: ok=%v err=%v, want success", ok, out.Err)
	}
	if !v.Active(100) {
		t.Fatal("session no longer active")
	}
}

func TestValidatorFailureVerdicts(t *testing.T) {
	for _, result := range []AuthResult{AuthInvalidTicket, AuthExpired, AuthCanceled, AuthNetworkIdentityFailure} {
		v := NewValidator(&recordingBackend{}, nil)
		if err := v.Begin(1, 100, []byte("ticket")); err != nil {
			t.Fatalf("%v: Begin: %v", result, err)
		}
		out, ok := v.HandleResponse(AuthResponse{Peer: 100, Result: result})
		if !ok {
			t.Fatalf("%v: response not matched", result)
		}
		if out.Err == nil {
			t.Fatalf("%v: expected failure outcome", result)
		}
		if v.Pending(100) || v.Active(100) {
			t.Fatalf("%v: state not cleared", result)
		}
	}
}

func TestValidatorUnknownResponseIgnored(t *testing.T) {
	v := NewValidator(&recordingBackend{}, nil)
	if _, ok := v.HandleResponse(AuthResponse{Peer: 999, Result: AuthOK}); ok {
		t.Fatal("matched a response nobody asked for")
	}
}

func TestValidatorTicketIdentityMismatch(t *testing.T) {
	s := newSealer(t)
	be := &recordingBackend{}
	v := NewValidator(be, s)

	err := v.Begin(1, 200, s.Issue(100))
	if err == nil {
		t.Fatal("expected identity mismatch error")
	}
	if transport.KindOf(err) != transport.KindAuthValidation {
		t.Fatalf("kind = %v, want AuthValidation", transport.KindOf(err))
	}
	if be.beginCount() != 0 {
		t.Fatal("backend contacted despite local rejection")
	}
}

func TestValidatorCloseEndsAll(t *testing.T) {
	be := &recordingBackend{}
	v := NewValidator(be, nil)

	if err := v.Begin(1, 100, []byte("a")); err != nil {
		t.Fatalf("Begin 100: %v", err)
	}
	if err := v.Begin(2, 200, []byte("b")); err != nil {
		t.Fatalf("Begin 200: %v", err)
	}
	if _, ok := v.HandleResponse(AuthResponse{Peer: 200, Owner: 200, Result: AuthOK}); !ok {
		t.Fatal("response not matched")
	}

	v.Close()
	if be.endCount() != 2 {
		t.Fatalf("EndAuthSession calls = %d, want 2", be.endCount())
	}
	if v.Pending(100) || v.Active(200) {
		t.Fatal("state survived Close")
	}
}
