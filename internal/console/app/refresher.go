package app

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// tokenRefresher is the part of *session.Manager the Refresher drives.
type tokenRefresher interface {
	IsAuthenticated() bool
	NeedsRefresh() bool
	RefreshAccessToken(ctx context.Context) (string, error)
}

// Refresher periodically refreshes the access token ahead of expiry so the
// realtime channel always reconnects with a live token, even when no API
// request has been made for a while.
type Refresher struct {
	Session  tokenRefresher
	Logger   *slog.Logger
	Interval time.Duration

	// Internal channels for lifecycle management
	stopCh   chan struct{}
	doneCh   chan struct{}
	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once
}

// NewRefresher creates a refresher checking every interval.
// If interval is 0 or negative, defaults to 15 seconds.
func NewRefresher(s tokenRefresher, logger *slog.Logger, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	return &Refresher{
		Session:  s,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. It is non-blocking.
func (r *Refresher) Start() {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if r.started {
		return
	}
	r.started = true

	go r.run()
	r.Logger.Info("token refresher started", "interval", r.Interval)
}

// Stop shuts the worker down and waits for an in-flight refresh to finish.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)

		r.startMu.Lock()
		started := r.started
		r.startMu.Unlock()
		if started {
			<-r.doneCh
		}
		r.Logger.Info("token refresher stopped")
	})
}

func (r *Refresher) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.check()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Refresher) check() {
	if !r.Session.IsAuthenticated() || !r.Session.NeedsRefresh() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := r.Session.RefreshAccessToken(ctx); err != nil {
		r.Logger.Error("proactive token refresh failed", "error", err)
		return
	}
	r.Logger.Debug("access token refreshed proactively")
}
