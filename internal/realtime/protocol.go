package realtime

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/woedy/snelroi-chat/internal/support"
)

// FrameType identifies the kind of a socket frame.
type FrameType string

const (
	FrameMessage               FrameType = "message"
	FrameTyping                FrameType = "typing"
	FrameUserStatus            FrameType = "user_status"
	FrameConnectionEstablished FrameType = "connection_established"
	FrameError                 FrameType = "error"
	FramePing                  FrameType = "ping"
	FramePong                  FrameType = "pong"
	FrameNotification          FrameType = "notification"
)

// Presence is the counterpart's online status.
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceOffline Presence = "offline"
)

// Role is the local participant's side of the conversation. It decides which
// typing signals count as the counterpart's.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Counterpart returns the sender type whose typing signals are forwarded.
func (r Role) Counterpart() support.SenderType {
	if r == RoleAdmin {
		return support.SenderCustomer
	}
	return support.SenderAdmin
}

// frame is the envelope for every inbound frame. Field meaning depends on
// Type: "message" carries an object for chat messages and a string for
// errors and connection_established.
type frame struct {
	Type         FrameType          `json:"type"`
	Message      json.RawMessage    `json:"message,omitempty"`
	IsTyping     *bool              `json:"is_typing,omitempty"`
	SenderType   support.SenderType `json:"sender_type,omitempty"`
	Status       Presence           `json:"status,omitempty"`
	Notification json.RawMessage    `json:"notification,omitempty"`
}

// outbound frames.
type pingFrame struct {
	Type FrameType `json:"type"`
}

type typingFrame struct {
	Type     FrameType `json:"type"`
	IsTyping bool      `json:"is_typing"`
}

// TypingEvent reports the counterpart starting or stopping typing.
type TypingEvent struct {
	IsTyping   bool
	SenderType support.SenderType
}

// PresenceEvent reports the counterpart going online or offline.
type PresenceEvent struct {
	Status Presence
}

// ErrorEvent carries a server-side error frame.
type ErrorEvent struct {
	Message string
}

// StatusEvent reports a lifecycle transition.
type StatusEvent struct {
	State          State
	ConversationID string
	// Attempt and Delay are set for StateReconnecting.
	Attempt int
	Delay   time.Duration
	// Code is the close code of the socket that ended, 0 for dial failures.
	Code int
	// Err is the transport error behind reconnecting and failed states.
	Err error
}

var errMissingField = errors.New("missing required field")

// decodeFrame parses raw and validates the fields its kind requires.
func decodeFrame(raw []byte) (frame, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return frame{}, errors.Wrap(err, "decode frame")
	}
	switch f.Type {
	case "":
		return frame{}, errors.Wrap(errMissingField, "type")
	case FrameMessage:
		if len(f.Message) == 0 {
			return frame{}, errors.Wrap(errMissingField, "message")
		}
	case FrameTyping:
		if f.IsTyping == nil || f.SenderType == "" {
			return frame{}, errors.Wrap(errMissingField, "is_typing/sender_type")
		}
	case FrameUserStatus:
		if f.Status != PresenceOnline && f.Status != PresenceOffline {
			return frame{}, errors.Wrapf(errMissingField, "status %q", f.Status)
		}
	case FrameError:
		if len(f.Message) == 0 {
			return frame{}, errors.Wrap(errMissingField, "message")
		}
	case FrameNotification:
		if len(f.Notification) == 0 {
			return frame{}, errors.Wrap(errMissingField, "notification")
		}
	}
	return f, nil
}

func (f frame) chatMessage() (support.ChatMessage, error) {
	var m support.ChatMessage
	if err := json.Unmarshal(f.Message, &m); err != nil {
		return m, errors.Wrap(err, "decode chat message")
	}
	if m.ID == 0 {
		return m, errors.Wrap(errMissingField, "message.id")
	}
	return m, nil
}

func (f frame) errorText() string {
	var s string
	if json.Unmarshal(f.Message, &s) == nil {
		return s
	}
	return string(f.Message)
}

func (f frame) notification() (support.Notification, error) {
	var n support.Notification
	if err := json.Unmarshal(f.Notification, &n); err != nil {
		return n, errors.Wrap(err, "decode notification")
	}
	if n.ID == 0 {
		return n, errors.Wrap(errMissingField, "notification.id")
	}
	return n, nil
}
