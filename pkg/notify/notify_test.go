package notify_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/aussiebroadwan/oltmanager/pkg/notify"
	"github.com/aussiebroadwan/oltmanager/pkg/notify/notifytest"
	"github.com/aussiebroadwan/oltmanager/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, notify.LevelWarning, notify.ParseLevel("WARN"))
	require.Equal(t, notify.LevelError, notify.ParseLevel("critical"))
	require.Equal(t, notify.LevelSuccess, notify.ParseLevel("success"))
	require.Equal(t, notify.LevelInfo, notify.ParseLevel(""))
	require.Equal(t, notify.LevelInfo, notify.ParseLevel("whatever"))
}

func TestSlogNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	notify.SlogNotifier{Logger: logger}.Notify(context.Background(), notify.Notice{
		Level:      notify.LevelError,
		Title:      "Alarm: LOS",
		Message:    "fiber cut",
		Persistent: true,
	})

	out := buf.String()
	require.Contains(t, out, "level=ERROR")
	require.Contains(t, out, `msg="fiber cut"`)
	require.Contains(t, out, `title="Alarm: LOS"`)
	require.Contains(t, out, "persistent=true")
}

func TestSlogNotifierPrefersContextLogger(t *testing.T) {
	var fallback, scoped bytes.Buffer
	ctx := slogx.WithContext(context.Background(), slog.New(slog.NewTextHandler(&scoped, nil)).With("conn_id", "conn_7"))

	notify.SlogNotifier{Logger: slog.New(slog.NewTextHandler(&fallback, nil))}.Notify(ctx, notify.Notice{
		Level:   notify.LevelInfo,
		Message: "ONT 12 status changed",
	})

	require.Empty(t, fallback.String())
	require.Contains(t, scoped.String(), "conn_id=conn_7")
	require.Contains(t, scoped.String(), `msg="ONT 12 status changed"`)
}

func TestRecorder(t *testing.T) {
	var r notifytest.Recorder

	_, ok := r.Last()
	require.False(t, ok)

	r.Notify(context.Background(), notify.Notice{Message: "one"})
	r.Notify(context.Background(), notify.Notice{Message: "two"})

	require.Equal(t, 2, r.Len())
	last, ok := r.Last()
	require.True(t, ok)
	require.Equal(t, "two", last.Message)

	r.Reset()
	require.Zero(t, r.Len())
}
