// Package progress fans crawl progress out to SSE subscribers.
// Events are routed by crawl session id, so concurrent crawls never
// see each other's updates.
package progress

import "sync"

// Event is one progress update for a crawl session.
type Event struct {
	SessionID       string `json:"sessionId"`
	CurrentURL      string `json:"currentUrl"`
	DiscoveredCount int    `json:"discoveredCount"`
	ProcessedCount  int    `json:"processedCount"`
	CurrentAction   string `json:"currentAction"`
	Progress        int    `json:"progress"`
}

// Broadcaster routes events to subscribers keyed by session id.
// Publishing never blocks: a subscriber that falls behind misses
// events rather than stalling the crawl.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[string]map[chan Event]struct{}),
	}
}

// Subscribe registers an observer for one session. The returned cancel
// func must be called when the observer disconnects.
func (b *Broadcaster) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan Event]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		set, ok := b.subs[sessionID]
		if !ok {
			return
		}
		if _, ok := set[ch]; !ok {
			return
		}
		delete(set, ch)
		if len(set) == 0 {
			delete(b.subs, sessionID)
		}
		close(ch)
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber of ev.SessionID.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports live subscribers for a session.
func (b *Broadcaster) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}
