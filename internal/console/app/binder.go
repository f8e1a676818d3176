package app

import (
	"log/slog"
	"sync"

	"github.com/aussiebroadwan/oltmanager/pkg/session"
)

// sessionEvents is the part of *session.Manager the Binder needs.
type sessionEvents interface {
	Subscribe(func(session.Event)) func()
	Logout()
}

// channelLifecycle is the part of *realtime.Channel the Binder needs.
type channelLifecycle interface {
	Connect() error
	Disconnect()
	OnAuthError(func()) func()
}

// Binder couples the realtime channel's lifetime to the session: the channel
// runs while someone is signed in, restarts when the identity changes and
// stops on sign-out. A realtime auth error signs the session out.
type Binder struct {
	session sessionEvents
	channel channelLifecycle
	logger  *slog.Logger

	mu     sync.Mutex
	userID int64
	bound  bool
	unsubs []func()
}

func NewBinder(s sessionEvents, c channelLifecycle, logger *slog.Logger) *Binder {
	return &Binder{session: s, channel: c, logger: logger}
}

// Start subscribes to session and channel events.
func (b *Binder) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.unsubs = append(b.unsubs,
		b.session.Subscribe(b.handle),
		b.channel.OnAuthError(func() {
			b.logger.Warn("realtime authentication rejected, signing out")
			b.session.Logout()
		}),
	)
}

// Stop removes the subscriptions made by Start.
func (b *Binder) Stop() {
	b.mu.Lock()
	unsubs := b.unsubs
	b.unsubs = nil
	b.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
}

func (b *Binder) handle(ev session.Event) {
	if !ev.Authenticated || ev.User == nil {
		b.mu.Lock()
		b.bound = false
		b.userID = 0
		b.mu.Unlock()

		b.channel.Disconnect()
		return
	}

	b.mu.Lock()
	switched := b.bound && b.userID != ev.User.ID
	b.bound = true
	b.userID = ev.User.ID
	b.mu.Unlock()

	if switched {
		b.logger.Info("operator changed, restarting realtime channel", "username", ev.User.Username)
		b.channel.Disconnect()
	}
	if err := b.channel.Connect(); err != nil {
		b.logger.Warn("realtime connect failed", "reason", string(ev.Reason), "error", err)
	}
}
