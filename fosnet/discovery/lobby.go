package discovery

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fosgame/fosnet/fosnet/transport"
)

// Lobby is one relay-hosted game visible to this client.
type Lobby struct {
	ID         transport.LobbyID
	Name       string
	Players    uint16
	MaxPlayers uint16
	SteamRelay bool
}

// RelayServerEvent is the closed set of lobby service notifications. The
// platform integration pushes them through a BackendHandle; the
// controller republishes them to the registered sink.
type RelayServerEvent interface{ relayServerEvent() }

// Activated reports the lobby service coming up.
type Activated struct{}

// Deactivated reports the lobby service going away.
type Deactivated struct{}

// LobbyDiscovered reports a lobby seen for the first time.
type LobbyDiscovered struct{ Lobby Lobby }

// LobbyUpdated reports changed metadata for a known lobby.
type LobbyUpdated struct{ Lobby Lobby }

// LobbyRemoved reports a lobby that is gone.
type LobbyRemoved struct{ ID transport.LobbyID }

// TicketIssued reports a fresh auth ticket from the platform.
type TicketIssued struct{ Ticket []byte }

// TicketRevoked reports the current ticket becoming invalid.
type TicketRevoked struct{}

func (Activated) relayServerEvent()       {}
func (Deactivated) relayServerEvent()     {}
func (LobbyDiscovered) relayServerEvent() {}
func (LobbyUpdated) relayServerEvent()    {}
func (LobbyRemoved) relayServerEvent()    {}
func (TicketIssued) relayServerEvent()    {}
func (TicketRevoked) relayServerEvent()   {}

// BackendHandle is the write side handed to the platform integration.
// Push is safe from any goroutine, including SDK callback threads.
type BackendHandle struct {
	c *Controller
}

// Push enqueues one event for forwarding. Events pushed while the
// controller is inactive are dropped.
func (h *BackendHandle) Push(ev RelayServerEvent) {
	h.c.push(ev)
}

// Controller bridges relay lobby callbacks into a uniform event stream
// and keeps a cache of the lobbies currently visible.
type Controller struct {
	log *zap.Logger

	mu      sync.Mutex
	sink    *transport.Queue[RelayServerEvent]
	active  bool
	pending chan RelayServerEvent
	lobbies map[transport.LobbyID]Lobby
	wg      sync.WaitGroup
}

// NewController builds an inactive controller.
func NewController(logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		log:     logger,
		lobbies: make(map[transport.LobbyID]Lobby),
	}
}

// SetSink registers the queue events are forwarded to. Must be called
// before Activate.
func (c *Controller) SetSink(sink *transport.Queue[RelayServerEvent]) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// Handle returns the write side for the platform integration.
func (c *Controller) Handle() *BackendHandle {
	return &BackendHandle{c: c}
}

// Activate starts the forwarding task. Activating an active controller
// is a no-op; activating without a sink fails fast, because events
// pushed into a sinkless controller would vanish silently.
func (c *Controller) Activate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return nil
	}
	if c.sink == nil {
		return transport.Errf(transport.KindInvalidConfig, "activate", "no event sink registered")
	}
	c.active = true
	c.pending = make(chan RelayServerEvent, 64)

	c.wg.Add(1)
	go c.forward(c.pending, c.sink)

	c.log.Info("lobby discovery active")
	return nil
}

// Deactivate stops forwarding and clears the lobby cache. Queued events
// are still delivered before the task exits.
func (c *Controller) Deactivate() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	close(c.pending)
	c.pending = nil
	c.lobbies = make(map[transport.LobbyID]Lobby)
	c.mu.Unlock()
	c.wg.Wait()
	c.log.Info("lobby discovery inactive")
}

// Active reports whether the forwarding task is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Lobbies returns the cached lobby list, sorted by id.
func (c *Controller) Lobbies() []Lobby {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Lobby, 0, len(c.lobbies))
	for _, l := range c.lobbies {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Controller) push(ev RelayServerEvent) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.cacheLocked(ev)
	// The buffered send happens under the lock so Deactivate cannot close
	// the channel out from under it. It never blocks.
	select {
	case c.pending <- ev:
	default:
		// A consumer that stopped draining loses the oldest view; lobby
		// state is refreshed continuously so this is recoverable.
		c.log.Warn("lobby event queue full, dropping")
	}
	c.mu.Unlock()
}

// cacheLocked keeps the lobby map in step with the event stream.
func (c *Controller) cacheLocked(ev RelayServerEvent) {
	switch ev := ev.(type) {
	case LobbyDiscovered:
		c.lobbies[ev.Lobby.ID] = ev.Lobby
	case LobbyUpdated:
		c.lobbies[ev.Lobby.ID] = ev.Lobby
	case LobbyRemoved:
		delete(c.lobbies, ev.ID)
	}
}

func (c *Controller) forward(pending <-chan RelayServerEvent, sink *transport.Queue[RelayServerEvent]) {
	defer c.wg.Done()
	for ev := range pending {
		sink.Push(ev)
	}
}
