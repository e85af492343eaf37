package eventlog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/MikeSquared-Agency/Switchboard/internal/store"
)

// Subscriber receives domain events. A nil error acknowledges the delivery;
// the returned map is kept as the publish log's response data.
type Subscriber interface {
	ID() string
	Type() string
	Deliver(ctx context.Context, evt store.DomainEvent) (map[string]interface{}, error)
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" || key == "*" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}

type registration struct {
	sub    Subscriber
	filter eventFilter
}

// Registry is the lookup table of subscribers and the event types routed to
// each. It is built at startup and passed to the Log.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]registration
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]registration)}
}

// Register adds a subscriber for the given event types; no types means all events.
func (r *Registry) Register(sub Subscriber, eventTypes ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[sub.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrSubscriberRegistered, sub.ID())
	}
	r.subs[sub.ID()] = registration{sub: sub, filter: newEventFilter(eventTypes)}
	return nil
}

func (r *Registry) Lookup(id string) (Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.subs[id]
	return reg.sub, ok
}

// Route returns the ids of subscribers interested in an event type, sorted.
func (r *Registry) Route(eventType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, reg := range r.subs {
		if reg.filter.match(eventType) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
