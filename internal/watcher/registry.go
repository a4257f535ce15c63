package watcher

import (
	"context"
	"sort"
	"sync"

	"github.com/devblac/event-watcher/internal/event"
)

// Listener receives each batch of newly seen events for one event name.
type Listener func(ctx context.Context, events []event.Event) error

// SubscriptionID identifies one registered listener.
type SubscriptionID uint64

type registration struct {
	id SubscriptionID
	fn Listener
}

type subscription struct {
	active    bool
	listeners []registration
}

// Registry maps event names to their ordered listeners.
type Registry struct {
	mu   sync.RWMutex
	next SubscriptionID
	subs map[string]*subscription
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: map[string]*subscription{}}
}

// Add appends fn to the listeners of eventName and marks the event active.
func (r *Registry) Add(eventName string, fn Listener) SubscriptionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	s, ok := r.subs[eventName]
	if !ok {
		s = &subscription{}
		r.subs[eventName] = s
	}
	s.listeners = append(s.listeners, registration{id: r.next, fn: fn})
	s.active = true
	return r.next
}

// Remove drops the listener with id. The event becomes inactive once it has
// no listeners left. It reports whether the listener was found.
func (r *Registry) Remove(eventName string, id SubscriptionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[eventName]
	if !ok {
		return false
	}
	for i, reg := range s.listeners {
		if reg.id != id {
			continue
		}
		s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
		s.active = len(s.listeners) > 0
		return true
	}
	return false
}

// Active returns the names of events with at least one listener, sorted.
func (r *Registry) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.subs))
	for name, s := range r.subs {
		if s.active {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// IsActive reports whether eventName currently has listeners.
func (r *Registry) IsActive(eventName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[eventName]
	return ok && s.active
}

// Listeners returns a snapshot of eventName's listeners in registration order.
func (r *Registry) Listeners(eventName string) []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[eventName]
	if !ok {
		return nil
	}
	out := make([]Listener, len(s.listeners))
	for i, reg := range s.listeners {
		out[i] = reg.fn
	}
	return out
}
