package api

import "sync"

// SessionNotifier is a broadcast channel with a single payloadless event:
// the current credential is no longer valid. Emission is non-blocking, so
// 401s arriving close together may coalesce at a slow observer.
type SessionNotifier struct {
	mu   sync.Mutex
	next int
	subs map[int]chan struct{}
}

func NewSessionNotifier() *SessionNotifier {
	return &SessionNotifier{subs: make(map[int]chan struct{})}
}

// Subscribe registers an observer. The returned cancel func removes the
// subscription; it is safe to call more than once.
func (n *SessionNotifier) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = ch
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
	return ch, cancel
}

func (n *SessionNotifier) emit() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
