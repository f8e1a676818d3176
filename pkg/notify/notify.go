// Package notify carries user-visible notices out of the session and
// realtime layers. The console renders them through slog; tests record them.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/aussiebroadwan/oltmanager/pkg/slogx"
)

// Level is the urgency of a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// DefaultDuration is how long an auto-dismissing notice stays visible.
const DefaultDuration = 4500 * time.Millisecond

// ParseLevel maps free-form server levels onto Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success":
		return LevelSuccess
	case "warn", "warning":
		return LevelWarning
	case "error", "critical":
		return LevelError
	default:
		return LevelInfo
	}
}

// Notice is one user-visible message.
type Notice struct {
	Level   Level
	Title   string
	Message string

	// Persistent notices stay until dismissed; otherwise Duration applies.
	Persistent bool
	Duration   time.Duration
}

// Notifier presents notices to the operator.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, n Notice)

func (f Func) Notify(ctx context.Context, n Notice) { f(ctx, n) }

// Discard drops every notice.
var Discard Notifier = Func(func(context.Context, Notice) {})

// SlogNotifier writes notices to a logger, mapping Level to slog levels. A
// logger carried by ctx (see slogx.WithContext) takes precedence so notices
// keep the caller's attributes.
type SlogNotifier struct {
	Logger *slog.Logger
}

func (s SlogNotifier) Notify(ctx context.Context, n Notice) {
	logger := s.Logger
	if l, ok := slogx.Lookup(ctx); ok {
		logger = l
	}
	if logger == nil {
		logger = slog.Default()
	}

	lvl := slog.LevelInfo
	switch n.Level {
	case LevelWarning:
		lvl = slog.LevelWarn
	case LevelError:
		lvl = slog.LevelError
	}

	attrs := []any{"level_hint", string(n.Level)}
	if n.Title != "" {
		attrs = append(attrs, "title", n.Title)
	}
	if n.Persistent {
		attrs = append(attrs, "persistent", true)
	}
	logger.Log(ctx, lvl, n.Message, attrs...)
}
