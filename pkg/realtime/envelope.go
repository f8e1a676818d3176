package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Inbound event types with built-in handling.
const (
	TypeAlarm              = "alarm"
	TypePerformanceUpdate  = "performance_update"
	TypeONTStatusChange    = "ont_status_change"
	TypeSystemNotification = "system_notification"
	TypeAuthError          = "auth_error"
	TypePong               = "pong"
)

// Outbound control types.
const (
	TypeAuth        = "auth"
	TypePing        = "ping"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

var errNoType = errors.New("missing type")

// Message is one parsed inbound frame.
type Message struct {
	Type    string
	Payload json.RawMessage

	ReceivedAt time.Time
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("decode %s payload: empty", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// ParseMessage parses a {"type","payload"} envelope. Frames that carry their
// body under "data" instead of "payload" are accepted too.
func ParseMessage(frame []byte) (Message, error) {
	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return Message{}, err
	}
	if env.Type == "" {
		return Message{}, errNoType
	}

	payload := env.Payload
	if len(payload) == 0 || string(payload) == "null" {
		payload = env.Data
	}
	return Message{Type: env.Type, Payload: payload, ReceivedAt: time.Now()}, nil
}

// AlarmPayload is the body of an "alarm" event.
type AlarmPayload struct {
	ID          any    `json:"id,omitempty"`
	Severity    string `json:"severity"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Message     string `json:"message,omitempty"`
	OLTID       any    `json:"olt_id,omitempty"`
	ONTID       any    `json:"ont_id,omitempty"`
}

// Text returns the description, falling back to message.
func (a AlarmPayload) Text() string {
	if a.Description != "" {
		return a.Description
	}
	return a.Message
}

// ONTStatusChangePayload is the body of an "ont_status_change" event.
type ONTStatusChangePayload struct {
	ONTID     any    `json:"ont_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// SystemNotificationPayload is the body of a "system_notification" event.
type SystemNotificationPayload struct {
	Level   string `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

type authMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type controlMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type topicsData struct {
	Topics []string `json:"topics"`
}
