package session

import (
	"sync"

	"github.com/aussiebroadwan/oltmanager/pkg/oltsdk"
)

// Reason says why the session changed.
type Reason string

const (
	ReasonRestored Reason = "restored"
	ReasonLogin    Reason = "login"
	ReasonRefresh  Reason = "refresh"
	ReasonProfile  Reason = "profile"
	ReasonLogout   Reason = "logout"
	ReasonExpired  Reason = "expired"
)

// Event is delivered to subscribers after every session change.
type Event struct {
	Authenticated bool
	User          *oltsdk.User
	Reason        Reason
}

type subscriber struct {
	fn func(Event)
}

// Subscribe registers fn for session changes and returns a function that
// removes exactly this registration. Calling it more than once is a no-op.
func (m *Manager) Subscribe(fn func(Event)) func() {
	sub := &subscriber{fn: fn}

	m.subsMu.Lock()
	m.subs = append(m.subs, sub)
	m.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subsMu.Lock()
			defer m.subsMu.Unlock()
			for i, s := range m.subs {
				if s == sub {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// emit runs subscribers outside every lock so they may call back into the
// Manager.
func (m *Manager) emit(ev Event) {
	m.subsMu.Lock()
	subs := make([]*subscriber, len(m.subs))
	copy(subs, m.subs)
	m.subsMu.Unlock()

	for _, s := range subs {
		m.deliver(s, ev)
	}
}

func (m *Manager) deliver(s *subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("session subscriber panicked", "reason", string(ev.Reason), "panic", r)
		}
	}()
	s.fn(Event{Authenticated: ev.Authenticated, User: cloneUser(ev.User), Reason: ev.Reason})
}
