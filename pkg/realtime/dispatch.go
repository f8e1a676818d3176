package realtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/aussiebroadwan/oltmanager/pkg/notify"
)

// Dispatch parses one inbound frame and delivers it: built-in handling for
// the known event types first, then every subscriber for the type in
// registration order. Malformed frames are logged and dropped. A panicking
// subscriber does not stop the others.
func (c *Channel) Dispatch(frame []byte) {
	c.dispatch(context.Background(), frame)
}

func (c *Channel) dispatch(ctx context.Context, frame []byte) {
	msg, err := ParseMessage(frame)
	if err != nil {
		c.logger.Warn("dropping malformed realtime frame", "error", err, "bytes", len(frame))
		return
	}

	c.mu.Lock()
	c.last = &msg
	c.mu.Unlock()

	c.safely("built-in "+msg.Type+" handler", func() { c.builtin(ctx, msg) })

	for _, reg := range c.handlers.snapshot(msg.Type) {
		c.invoke(reg, msg)
	}
}

func (c *Channel) invoke(reg *registration, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("realtime subscriber panicked", "type", msg.Type, "panic", r)
		}
	}()
	reg.fn(msg)
}

func (c *Channel) builtin(ctx context.Context, msg Message) {
	switch msg.Type {
	case TypeAlarm:
		var a AlarmPayload
		if err := msg.Decode(&a); err != nil {
			c.logger.Warn("malformed alarm payload", "error", err)
			return
		}
		c.notifier.Notify(ctx, alarmNotice(a))

	case TypeONTStatusChange:
		var p ONTStatusChangePayload
		if err := msg.Decode(&p); err != nil {
			c.logger.Warn("malformed ont_status_change payload", "error", err)
			return
		}
		if p.OldStatus == p.NewStatus {
			return
		}
		c.notifier.Notify(ctx, notify.Notice{
			Level:    notify.LevelInfo,
			Message:  fmt.Sprintf("ONT %v status changed from %s to %s", p.ONTID, p.OldStatus, p.NewStatus),
			Duration: notify.DefaultDuration,
		})

	case TypeSystemNotification:
		var p SystemNotificationPayload
		if err := msg.Decode(&p); err != nil {
			c.logger.Warn("malformed system_notification payload", "error", err)
			return
		}
		c.notifier.Notify(ctx, notify.Notice{
			Level:    notify.ParseLevel(p.Level),
			Title:    p.Title,
			Message:  p.Message,
			Duration: notify.DefaultDuration,
		})

	case TypeAuthError:
		var p struct {
			Message string `json:"message"`
		}
		_ = msg.Decode(&p)
		c.logger.Warn("server reported realtime auth error", "message", p.Message)
		c.authFailed(ctx, p.Message)

	case TypePerformanceUpdate, TypePong:
		// Subscriber-only.
	}
}

// alarmNotice maps alarm severity onto notice urgency. Critical alarms stay
// until dismissed.
func alarmNotice(a AlarmPayload) notify.Notice {
	severity := strings.ToLower(strings.TrimSpace(a.Severity))

	n := notify.Notice{
		Level:   notify.LevelInfo,
		Title:   "Alarm",
		Message: a.Text(),
	}
	switch severity {
	case "critical", "major":
		n.Level = notify.LevelError
	case "minor", "warning":
		n.Level = notify.LevelWarning
	}
	if severity != "" {
		n.Title = strings.ToUpper(severity[:1]) + severity[1:] + " alarm"
	}
	if a.Type != "" {
		n.Title += ": " + a.Type
	}
	if n.Message == "" {
		n.Message = "Alarm received"
	}

	if severity == "critical" {
		n.Persistent = true
	} else {
		n.Duration = notify.DefaultDuration
	}
	return n
}

// authFailed tears the connection down without scheduling a reconnect,
// tells the operator and fires OnAuthError watchers.
func (c *Channel) authFailed(ctx context.Context, detail string) {
	c.Disconnect()

	msg := "Realtime authentication failed. Please reload and log in again."
	if detail != "" {
		msg = strings.TrimSuffix(detail, ".") + ". Please reload and log in again."
	}
	c.notifier.Notify(ctx, notify.Notice{
		Level:      notify.LevelError,
		Title:      "Authentication error",
		Message:    msg,
		Persistent: true,
	})

	for _, fn := range c.authWatchers.snapshot() {
		c.safely("auth error watcher", func() { fn(struct{}{}) })
	}
}
