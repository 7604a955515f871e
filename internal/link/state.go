package link

import (
	"sync"

	"github.com/google/uuid"
)

// Phase is the connection lifecycle phase. Exactly one State value is live
// at any time, and the supervisor is its only writer.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Connected
	Reconnecting
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// State is the connection state plus the peer display name for the phases
// that carry one (Connecting, Connected).
type State struct {
	Phase Phase  `json:"phase"`
	Peer  string `json:"peer,omitempty"`
}

// StatusBroadcaster holds the latest connection state and notifies watchers
// when it changes. It is a latest-value cell, not a queue: a slow watcher
// sees the newest state, not every intermediate one.
type StatusBroadcaster struct {
	mu       sync.Mutex
	state    State
	watchers map[string]chan State
}

// NewStatusBroadcaster returns a broadcaster in the Disconnected state.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		state:    State{Phase: Disconnected},
		watchers: make(map[string]chan State),
	}
}

// Current returns the latest published state.
func (b *StatusBroadcaster) Current() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Watch registers a watcher. The returned channel carries the latest state
// after every change; the id is used to unregister.
func (b *StatusBroadcaster) Watch() (string, <-chan State) {
	id := uuid.NewString()
	ch := make(chan State, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watchers[id] = ch
	return id, ch
}

// Unwatch removes a watcher and closes its channel.
func (b *StatusBroadcaster) Unwatch(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.watchers[id]; ok {
		close(ch)
		delete(b.watchers, id)
	}
}

// publish stores the new state and notifies watchers. A watcher that has not
// drained its channel has its stale value replaced by the newest one.
func (b *StatusBroadcaster) publish(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
	for _, ch := range b.watchers {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}
