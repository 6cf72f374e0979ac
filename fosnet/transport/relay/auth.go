package relay

import (
	"sync"

	"github.com/fosgame/fosnet/fosnet/transport"
)

// Validator drives ticket validation against the relay identity service.
// Each identity is in at most one of two states at a time: pending (a
// validation request is in flight) or active (a validated session is
// held). Verdicts arrive asynchronously as AuthResponse backend events
// and are applied through HandleResponse.
type Validator struct {
	backend Backend
	sealer  *TicketSealer

	mu      sync.Mutex
	pending map[transport.SteamID]transport.ClientID
	active  map[transport.SteamID]transport.ClientID
}

// AuthOutcome is the applied result of one validation request.
type AuthOutcome struct {
	Client transport.ClientID
	Peer   transport.SteamID
	Owner  transport.SteamID
	Err    error
}

// NewValidator creates a validator issuing requests through backend.
// sealer may be nil, in which case tickets are passed through opaque and
// only the relay checks them.
func NewValidator(backend Backend, sealer *TicketSealer) *Validator {
	return &Validator{
		backend: backend,
		sealer:  sealer,
		pending: make(map[transport.SteamID]transport.ClientID),
		active:  make(map[transport.SteamID]transport.ClientID),
	}
}

// Begin starts validating ticket for a connection claiming steamID. The
// ticket's embedded identity must match the claimed one. A second Begin
// for an identity that is still pending is rejected locally without
// contacting the relay. A Begin for an identity that is already active is
// forwarded: the relay answers a stale-session duplicate with
// AuthDuplicateRequest, which counts as success.
func (v *Validator) Begin(client transport.ClientID, steamID transport.SteamID, ticket []byte) error {
	if v.sealer != nil {
		t, err := v.sealer.Open(ticket)
		if err != nil {
			return transport.Errf(transport.KindAuthValidation, "auth-begin", "open ticket: %v", err)
		}
		if t.SteamID != steamID {
			return transport.Errf(transport.KindAuthValidation, "auth-begin",
				"ticket identity %d does not match claimed %d", t.SteamID, steamID)
		}
	}

	v.mu.Lock()
	if _, ok := v.pending[steamID]; ok {
		v.mu.Unlock()
		return transport.Errf(transport.KindAuthValidation, "auth-begin",
			"validation already pending for %d", steamID)
	}
	_, alreadyActive := v.active[steamID]
	if !alreadyActive {
		v.pending[steamID] = client
	}
	v.mu.Unlock()

	if err := v.backend.BeginAuthSession(ticket, steamID); err != nil {
		v.mu.Lock()
		if !alreadyActive {
			delete(v.pending, steamID)
		}
		v.mu.Unlock()
		return err
	}
	return nil
}

// HandleResponse applies one relay verdict. It reports false when the
// response does not correspond to a tracked request.
func (v *Validator) HandleResponse(r AuthResponse) (AuthOutcome, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := AuthOutcome{Peer: r.Peer, Owner: r.Owner}
	if !r.Result.ok() {
		out.Err = transport.Errf(transport.KindAuthValidation, "auth", "relay verdict: %s", r.Result)
	}

	if client, ok := v.pending[r.Peer]; ok {
		delete(v.pending, r.Peer)
		out.Client = client
		if out.Err == nil {
			v.active[r.Peer] = client
		}
		return out, true
	}
	if client, ok := v.active[r.Peer]; ok && r.Result == AuthDuplicateRequest {
		// Re-validation of an identity we already hold active. The stale
		// duplicate verdict confirms the session; nothing changes.
		out.Client = client
		return out, true
	}
	return AuthOutcome{}, false
}

// EndSession releases any session state for steamID, pending or active,
// and tells the relay. Calling it for an unknown identity is a no-op.
func (v *Validator) EndSession(steamID transport.SteamID) {
	v.mu.Lock()
	_, wasPending := v.pending[steamID]
	_, wasActive := v.active[steamID]
	delete(v.pending, steamID)
	delete(v.active, steamID)
	v.mu.Unlock()

	if wasPending || wasActive {
		v.backend.EndAuthSession(steamID)
	}
}

// Close ends every tracked session. Used on transport shutdown so the
// relay never holds sessions for a server that is gone.
func (v *Validator) Close() {
	v.mu.Lock()
	ids := make([]transport.SteamID, 0, len(v.pending)+len(v.active))
	for id := range v.pending {
		ids = append(ids, id)
	}
	for id := range v.active {
		if _, ok := v.pending[id]; !ok {
			ids = append(ids, id)
		}
	}
	v.pending = make(map[transport.SteamID]transport.ClientID)
	v.active = make(map[transport.SteamID]transport.ClientID)
	v.mu.Unlock()

	for _, id := range ids {
		v.backend.EndAuthSession(id)
	}
}

// Active reports whether steamID holds a validated session.
func (v *Validator) Active(steamID transport.SteamID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.active[steamID]
	return ok
}

// Pending reports whether a validation is in flight for steamID.
func (v *Validator) Pending(steamID transport.SteamID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.pending[steamID]
	return ok
}
