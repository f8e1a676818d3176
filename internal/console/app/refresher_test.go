package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/oltmanager/pkg/slogx"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	authenticated atomic.Bool
	stale         atomic.Bool
	fail          atomic.Bool
	refreshes     atomic.Int32
}

func (f *fakeRefresher) IsAuthenticated() bool { return f.authenticated.Load() }
func (f *fakeRefresher) NeedsRefresh() bool    { return f.stale.Load() }

func (f *fakeRefresher) RefreshAccessToken(context.Context) (string, error) {
	f.refreshes.Add(1)
	if f.fail.Load() {
		return "", errors.New("refresh rejected")
	}
	f.stale.Store(false)
	return "fresh", nil
}

func TestRefresherRefreshesStaleToken(t *testing.T) {
	f := &fakeRefresher{}
	f.authenticated.Store(true)
	f.stale.Store(true)

	r := NewRefresher(f, slogx.Discard(), 5*time.Millisecond)
	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool { return f.refreshes.Load() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, int32(1), f.refreshes.Load())
}

func TestRefresherSkipsWhenSignedOut(t *testing.T) {
	f := &fakeRefresher{}
	f.stale.Store(true)

	r := NewRefresher(f, slogx.Discard(), 5*time.Millisecond)
	r.Start()
	time.Sleep(40 * time.Millisecond)
	r.Stop()

	require.Zero(t, f.refreshes.Load())
}

func TestRefresherKeepsTryingAfterFailure(t *testing.T) {
	f := &fakeRefresher{}
	f.authenticated.Store(true)
	f.stale.Store(true)
	f.fail.Store(true)

	r := NewRefresher(f, slogx.Discard(), 5*time.Millisecond)
	r.Start()
	defer r.Stop()

	require.Eventually(t, func() bool { return f.refreshes.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestRefresherStopWithoutStart(t *testing.T) {
	r := NewRefresher(&fakeRefresher{}, slogx.Discard(), 0)
	require.Equal(t, 15*time.Second, r.Interval)

	done := make(chan struct{})
	go func() {
		r.Stop()
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without Start")
	}
}
