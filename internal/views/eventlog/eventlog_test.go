package eventlog

import (
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/woedy/snelroi-chat/internal/realtime"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestAdd_Capacity(t *testing.T) {
	m := New()
	for i := 0; i < capacity+25; i++ {
		m.Add(t0, KindSocket, "event")
	}
	if m.Len() != capacity {
		t.Errorf("Len() = %d, want %d", m.Len(), capacity)
	}
}

func TestAddStatus(t *testing.T) {
	tests := []struct {
		ev       realtime.StatusEvent
		wantKind Kind
		want     string
	}{
		{realtime.StatusEvent{State: realtime.StateConnected}, KindSocket, "connected"},
		{
			realtime.StatusEvent{State: realtime.StateReconnecting, Attempt: 3, Delay: 4 * time.Second, Code: 1006},
			KindSocket, "reconnecting attempt 3 in 4s (close 1006)",
		},
		{
			realtime.StatusEvent{State: realtime.StateFailed, Err: errors.New("connection refused")},
			KindError, "failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.ev.State.String(), func(t *testing.T) {
			m := New()
			m.AddStatus(t0, tt.ev)
			e := m.Entries()[0]
			if e.Kind != tt.wantKind || e.Message != tt.want {
				t.Errorf("entry = %+v, want kind %q message %q", e, tt.wantKind, tt.want)
			}
		})
	}
}

func TestScroll(t *testing.T) {
	m := New()
	for i := 0; i < 10; i++ {
		m.Add(t0, KindSocket, "event")
	}
	m.Scroll(4)
	if m.offset != 4 {
		t.Errorf("offset = %d, want 4", m.offset)
	}
	m.Scroll(100)
	if m.offset != 9 {
		t.Errorf("offset = %d, want clamped to 9", m.offset)
	}
	m.Scroll(-100)
	if m.offset != 0 {
		t.Errorf("offset = %d, want 0", m.offset)
	}
	m.Scroll(3)
	m.Add(t0, KindError, "boom")
	if m.offset != 0 {
		t.Error("Add should scroll back to the newest entry")
	}
}

func TestView(t *testing.T) {
	m := New()
	if !strings.Contains(m.View(80, 20), "No events yet") {
		t.Error("empty log should show a placeholder")
	}
	m.Add(t0, KindNotification, "Card blocked")
	m.AddStatus(t0, realtime.StatusEvent{State: realtime.StateDisconnected, Code: 1000})
	v := m.View(80, 20)
	for _, want := range []string{"CONNECTION LOG", "Card blocked", "disconnected (close 1000)", "2 events"} {
		if !strings.Contains(v, want) {
			t.Errorf("View() missing %q:\n%s", want, v)
		}
	}
}
