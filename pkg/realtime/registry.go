package realtime

import (
	"sync"
)

// Handler receives inbound messages of the types it subscribed to.
type Handler func(Message)

type registration struct {
	fn Handler
}

// registry maps event types to handlers in registration order. Each
// Subscribe call creates its own registration, so the same func may be
// registered repeatedly and is invoked once per registration.
type registry struct {
	mu     sync.RWMutex
	byType map[string][]*registration
}

func newRegistry() *registry {
	return &registry{byType: make(map[string][]*registration)}
}

func (r *registry) add(typ string, reg *registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[typ] = append(r.byType[typ], reg)
}

func (r *registry) remove(typ string, reg *registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.byType[typ]
	for i, have := range regs {
		if have == reg {
			regs = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(regs) == 0 {
		delete(r.byType, typ)
		return
	}
	r.byType[typ] = regs
}

// snapshot returns the current handlers for typ; callers iterate it
// without holding the lock.
func (r *registry) snapshot(typ string) []*registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	regs := r.byType[typ]
	out := make([]*registration, len(regs))
	copy(out, regs)
	return out
}

func (r *registry) count(typ string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType[typ])
}

// subscribe registers fn for every type in types and returns an idempotent
// function undoing exactly these registrations.
func (r *registry) subscribe(types []string, fn Handler) func() {
	regs := make([]*registration, len(types))
	for i, typ := range types {
		regs[i] = &registration{fn: fn}
		r.add(typ, regs[i])
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i, typ := range types {
				r.remove(typ, regs[i])
			}
		})
	}
}

// observers is an ordered list of callbacks with idempotent removal.
type observers[T any] struct {
	mu   sync.Mutex
	list []*func(T)
}

func (o *observers[T]) add(fn func(T)) func() {
	p := &fn
	o.mu.Lock()
	o.list = append(o.list, p)
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			for i, have := range o.list {
				if have == p {
					o.list = append(o.list[:i:i], o.list[i+1:]...)
					return
				}
			}
		})
	}
}

func (o *observers[T]) snapshot() []func(T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]func(T), len(o.list))
	for i, p := range o.list {
		out[i] = *p
	}
	return out
}
