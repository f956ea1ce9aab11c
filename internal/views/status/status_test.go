package status

import (
	"strings"
	"testing"
	"time"

	"github.com/woedy/snelroi-chat/internal/realtime"
)

func TestLabel(t *testing.T) {
	tests := []struct {
		ev   realtime.StatusEvent
		want string
	}{
		{realtime.StatusEvent{State: realtime.StateIdle}, "Offline"},
		{realtime.StatusEvent{State: realtime.StateConnecting}, "Connecting..."},
		{realtime.StatusEvent{State: realtime.StateConnected}, "Connected"},
		{realtime.StatusEvent{State: realtime.StateReconnecting, Attempt: 2, Delay: 2 * time.Second}, "Reconnecting in 2s (attempt 2/5)"},
		{realtime.StatusEvent{State: realtime.StateDisconnected}, "Disconnected"},
		{realtime.StatusEvent{State: realtime.StateFailed}, "Connection failed"},
	}

	for _, tt := range tests {
		t.Run(tt.ev.State.String(), func(t *testing.T) {
			m := New(5)
			m.Apply(tt.ev)
			if got := m.Label(); !strings.HasPrefix(got, tt.want) {
				t.Errorf("Label() = %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func TestApplyClearsPresenceWhenNotConnected(t *testing.T) {
	m := New(5)
	m.Apply(realtime.StatusEvent{State: realtime.StateConnected, ConversationID: "42"})
	m.AgentOnline = true
	m.Apply(realtime.StatusEvent{State: realtime.StateReconnecting, Attempt: 1, Delay: time.Second})
	if m.AgentOnline {
		t.Error("agent presence survived a dropped connection")
	}
	if m.ConversationID != "42" {
		t.Errorf("ConversationID = %q, want it kept", m.ConversationID)
	}
}

func TestView(t *testing.T) {
	m := New(5)
	m.Width = 100
	m.Apply(realtime.StatusEvent{State: realtime.StateConnected, ConversationID: "42"})
	m.AgentOnline = true
	m.Unread = 3

	out := m.View()
	for _, want := range []string{"Connected", "Conversation #42", "agent online", "3 unread"} {
		if !strings.Contains(out, want) {
			t.Errorf("View() missing %q:\n%s", want, out)
		}
	}
}
