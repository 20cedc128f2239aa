// Package identity tracks who is signed in and issues their access tokens.
package identity

import (
	"log"
	"sync"

	"github.com/gofrs/uuid"
)

// Event is an identity change. uuid.Nil stands for "nobody": a sign-in has
// a nil Previous, a sign-out a nil Current.
type Event struct {
	Previous uuid.UUID
	Current  uuid.UUID
}

func (e Event) SignedIn() bool {
	return e.Current != uuid.Nil
}

type Handler func(Event)

// subscription queues events for one handler. Publishers only append, so a
// slow handler never holds up a sign-in.
type subscription struct {
	mu      sync.Mutex
	pending []Event
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

func newSubscription() *subscription {
	return &subscription{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// push queues ev. An event equal to the last queued one is dropped; it would
// only repeat the same change.
func (s *subscription) push(ev Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if n := len(s.pending); n > 0 && s.pending[n-1] == ev {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, ev)
	s.mu.Unlock()
	s.signal()
}

func (s *subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// stop refuses new events. Queued ones are still delivered.
func (s *subscription) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.signal()
}

func (s *subscription) run(handler Handler) {
	defer close(s.done)
	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		stopped := s.stopped
		s.mu.Unlock()

		for _, ev := range batch {
			deliver(handler, ev)
		}
		if len(batch) > 0 {
			continue
		}
		if stopped {
			return
		}
		<-s.wake
	}
}

// Notifier fans identity events out to subscribers. Each subscriber sees
// events in publish order on its own goroutine.
type Notifier struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
	closed bool
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]*subscription)}
}

// Subscribe registers handler and returns a function that removes it. The
// returned function waits until already published events were handled.
func (n *Notifier) Subscribe(handler Handler) func() {
	sub := newSubscription()

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(sub.done)
		return func() {}
	}
	id := n.nextID
	n.nextID++
	n.subs[id] = sub
	n.mu.Unlock()

	go sub.run(handler)

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			if _, ok := n.subs[id]; ok {
				delete(n.subs, id)
				sub.stop()
			}
			n.mu.Unlock()
			<-sub.done
		})
	}
}

func deliver(handler Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[identity] Handler panic for %s -> %s: %v", ev.Previous, ev.Current, r)
		}
	}()
	handler(ev)
}

// Publish queues ev for every subscriber and returns without waiting for
// any handler.
func (n *Notifier) Publish(ev Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, sub := range n.subs {
		sub.push(ev)
	}
}

func (n *Notifier) SignIn(userID uuid.UUID) {
	n.Publish(Event{Current: userID})
}

func (n *Notifier) SignOut(userID uuid.UUID) {
	n.Publish(Event{Previous: userID})
}

// Close removes every subscriber after its pending events were handled.
func (n *Notifier) Close() {
	n.mu.Lock()
	n.closed = true
	subs := n.subs
	n.subs = make(map[int]*subscription)
	for _, sub := range subs {
		sub.stop()
	}
	n.mu.Unlock()

	for _, sub := range subs {
		<-sub.done
	}
}

func (n *Notifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}
