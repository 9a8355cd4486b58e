package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// subscriber channel capacity. A subscriber that falls this far behind starts
// losing events; it is expected to reconcile from the job store.
const subscriberBuffer = 16

// Hub is an in-process Broadcaster with per-workspace subscriber sets.
type Hub struct {
	mu         sync.RWMutex
	workspaces map[string]map[chan Event]struct{}
	log        zerolog.Logger
}

// NewHub constructs a Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		workspaces: make(map[string]map[chan Event]struct{}),
		log:        log,
	}
}

// Subscribe attaches to a workspace's channel. The returned cancel function
// detaches and is safe to call more than once.
func (h *Hub) Subscribe(workspaceID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	set, ok := h.workspaces[workspaceID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.workspaces[workspaceID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.workspaces[workspaceID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.workspaces, workspaceID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish fans the event out to the subscribers currently attached to its
// workspace. Sends never block: a full subscriber drops the event.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.workspaces[ev.WorkspaceID] {
		select {
		case ch <- ev:
		default:
			h.log.Warn().
				Str("workspace_id", ev.WorkspaceID).
				Str("type", string(ev.Type)).
				Msg("dropping event for slow subscriber")
		}
	}
	return nil
}

// Subscribers reports how many subscribers a workspace currently has.
func (h *Hub) Subscribers(workspaceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.workspaces[workspaceID])
}
