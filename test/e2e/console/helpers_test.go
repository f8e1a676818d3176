package console_test

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/oltmanager/internal/console/app"
	"github.com/aussiebroadwan/oltmanager/internal/olttest"
	"github.com/aussiebroadwan/oltmanager/pkg/realtime"
	"github.com/stretchr/testify/require"
)

/*
 * Helpers for console end-to-end tests. Each test runs the whole console
 * application against an in-process OLT Manager backend.
 */

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

// consoleConfig returns a config pointing at srv with a per-test SQLite
// credential store and fast reconnects.
func consoleConfig(t *testing.T, srv *olttest.Server) app.Config {
	t.Helper()

	return app.Config{
		APIURL:               srv.APIURL(),
		WSURL:                srv.WSURL(),
		Username:             olttest.Username,
		Password:             olttest.Password,
		CredentialStore:      "sqlite",
		CredentialDB:         filepath.Join(t.TempDir(), "creds.db"),
		ReconnectBaseDelay:   20 * time.Millisecond,
		ReconnectMaxAttempts: 3,
		RefreshInterval:      time.Second,
		Topics:               []string{"alarms"},
		LogLevel:             "error",
		ShutdownGracePeriod:  2 * time.Second,
		LogOutput:            io.Discard,
	}
}

// runningConsole is an Application whose Run loop is active.
type runningConsole struct {
	*app.Application

	cancel context.CancelFunc
	errCh  chan error
	once   sync.Once
	err    error
}

// startConsole starts the application and waits until the realtime channel
// is connected. It is stopped when the test ends.
func startConsole(t *testing.T, cfg app.Config) *runningConsole {
	t.Helper()

	application, err := app.New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	rc := &runningConsole{Application: application, cancel: cancel, errCh: make(chan error, 1)}
	go func() { rc.errCh <- application.Run(ctx) }()
	t.Cleanup(func() { _ = rc.stop(t) })

	require.Eventually(t, func() bool {
		return application.Channel().State() == realtime.StateConnected
	}, waitFor, tick, "console never connected")

	return rc
}

func (rc *runningConsole) stop(t *testing.T) error {
	t.Helper()

	rc.once.Do(func() {
		rc.cancel()
		select {
		case rc.err = <-rc.errCh:
		case <-time.After(waitFor):
			t.Error("console did not stop")
		}
	})
	return rc.err
}

// authTokens returns the tokens sent in auth frames, oldest first.
func authTokens(t *testing.T, srv *olttest.Server) []string {
	t.Helper()

	var tokens []string
	for _, f := range srv.ReceivedOfType(realtime.TypeAuth) {
		var msg struct {
			Token string `json:"token"`
		}
		require.NoError(t, json.Unmarshal(f.Raw, &msg))
		tokens = append(tokens, msg.Token)
	}
	return tokens
}
