package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/woedy/snelroi-chat/internal/realtime"
	"github.com/woedy/snelroi-chat/internal/support"
)

type fakeSession struct {
	mu       sync.Mutex
	opened   []string
	obs      realtime.Observers
	activity int
	stops    int
	closed   int
	openErr  error
}

func (f *fakeSession) Open(_ context.Context, id string, obs realtime.Observers) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = append(f.opened, id)
	f.obs = obs
	return nil
}

func (f *fakeSession) NotifyTypingActivity() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activity++
}

func (f *fakeSession) StopTyping() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeSession) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

type fakeAPI struct {
	sendErr error
	sent    []string
	history support.Conversation
	unread  int
}

func (f *fakeAPI) GetConversation(_ context.Context, id int64) (*support.Conversation, error) {
	c := f.history
	c.ID = id
	return &c, nil
}

func (f *fakeAPI) SendMessage(_ context.Context, _ int64, text string) (*support.ChatMessage, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, text)
	return &support.ChatMessage{ID: int64(100 + len(f.sent)), SenderType: support.SenderCustomer, Message: text, CreatedAt: time.Now()}, nil
}

func (f *fakeAPI) UnreadCount(context.Context) (int, error) { return f.unread, nil }

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestModel(t *testing.T, api *fakeAPI) (Model, *fakeSession, *fakeSession) {
	t.Helper()
	chat, notify := &fakeSession{}, &fakeSession{}
	m := New(Options{
		Chat:          chat,
		Notifications: notify,
		API:           api,
		Conversation: support.Conversation{
			ID: 42,
			Messages: []support.ChatMessage{
				{ID: 1, SenderType: support.SenderCustomer, Message: "my card was declined", CreatedAt: t0},
			},
		},
		MaxAttempts:   realtime.DefaultMaxAttempts,
		MarkdownStyle: "notty",
	})
	m.input.Cursor.SetMode(cursor.CursorStatic)
	t.Cleanup(m.Shutdown)
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	return m, chat, notify
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

// run executes cmd and any batched commands, feeding the results back into m.
// Commands that block on the event bridge are skipped.
func run(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	if cmd == nil {
		return m
	}
	done := make(chan tea.Msg, 1)
	go func() { done <- cmd() }()
	var msg tea.Msg
	select {
	case msg = <-done:
	case <-time.After(200 * time.Millisecond):
		return m
	}
	switch msg := msg.(type) {
	case nil:
		return m
	case tea.BatchMsg:
		for _, c := range msg {
			m = run(t, m, c)
		}
		return m
	default:
		next, _ := m.Update(msg)
		return next.(Model)
	}
}

func typeText(t *testing.T, m Model, text string) (Model, []tea.Cmd) {
	t.Helper()
	var cmds []tea.Cmd
	for _, r := range text {
		next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
		m = next.(Model)
		cmds = append(cmds, cmd)
	}
	return m, cmds
}

func TestInit_OpensBothSockets(t *testing.T) {
	m, chat, notify := newTestModel(t, &fakeAPI{})
	m = run(t, m, m.openCmd())

	if len(chat.opened) != 1 || chat.opened[0] != "42" {
		t.Errorf("chat opened = %v, want [42]", chat.opened)
	}
	if len(notify.opened) != 1 {
		t.Errorf("notifications opened %d times, want 1", len(notify.opened))
	}
	if !strings.Contains(m.View(), "my card was declined") {
		t.Error("preloaded history not shown")
	}
}

func TestOpenError_ShowsNotice(t *testing.T) {
	m, chat, _ := newTestModel(t, &fakeAPI{})
	chat.openErr = realtime.ErrNoCredentials
	m = run(t, m, m.openCmd())
	if !strings.Contains(m.View(), "no bearer token") {
		t.Errorf("View() missing open error:\n%s", m.View())
	}
}

func TestObserverBridge(t *testing.T) {
	m, _, _ := newTestModel(t, &fakeAPI{})
	obs := m.bridge.chatObservers()

	go obs.OnTyping(realtime.TypingEvent{IsTyping: true, SenderType: support.SenderAdmin})
	m = run(t, m, m.bridge.waitCmd())
	if !m.typing.Active() || !strings.Contains(m.View(), "Support is typing") {
		t.Fatal("typing event not shown")
	}

	reply := support.ChatMessage{ID: 2, SenderType: support.SenderAdmin, SenderName: "Dana", Message: "We have unblocked your card.", CreatedAt: t0.Add(time.Minute)}
	go obs.OnMessage(reply)
	m = run(t, m, m.bridge.waitCmd())
	go obs.OnMessage(reply)
	m = run(t, m, m.bridge.waitCmd())

	if m.transcript.Len() != 2 {
		t.Errorf("transcript has %d messages, want 2 after a duplicate", m.transcript.Len())
	}
	if m.typing.Active() {
		t.Error("agent message should clear the typing indicator")
	}

	go obs.OnPresence(realtime.PresenceEvent{Status: realtime.PresenceOnline})
	m = run(t, m, m.bridge.waitCmd())
	if !strings.Contains(m.View(), "agent online") {
		t.Error("presence not shown")
	}
}

func TestStatusTransitions(t *testing.T) {
	api := &fakeAPI{history: support.Conversation{
		Messages: []support.ChatMessage{
			{ID: 1, SenderType: support.SenderCustomer, Message: "my card was declined", CreatedAt: t0},
			{ID: 5, SenderType: support.SenderAdmin, Message: "missed while offline", CreatedAt: t0.Add(time.Minute)},
		},
	}}
	m, _, _ := newTestModel(t, api)

	tests := []struct {
		ev   realtime.StatusEvent
		want string
	}{
		{realtime.StatusEvent{State: realtime.StateConnecting}, "Connecting..."},
		{realtime.StatusEvent{State: realtime.StateConnected}, "Connected"},
		{realtime.StatusEvent{State: realtime.StateReconnecting, Attempt: 1, Delay: time.Second}, "Reconnecting in 1s (attempt 1/5)"},
		{realtime.StatusEvent{State: realtime.StateFailed}, "ctrl+r to try again"},
	}
	for _, tt := range tests {
		m = update(t, m, statusMsg(tt.ev))
		if !strings.Contains(m.View(), tt.want) {
			t.Errorf("after %s, View() missing %q", tt.ev.State, tt.want)
		}
	}

	next, cmd := m.Update(statusMsg(realtime.StatusEvent{State: realtime.StateConnected}))
	m = run(t, next.(Model), cmd)
	if m.transcript.Len() != 2 {
		t.Errorf("transcript has %d messages, want history backfilled after reconnect", m.transcript.Len())
	}
	if strings.Contains(m.View(), "ctrl+r to try again") {
		t.Error("failure notice should clear once connected")
	}
}

func TestSend(t *testing.T) {
	api := &fakeAPI{}
	m, chat, _ := newTestModel(t, api)

	m, cmds := typeText(t, m, "hello")
	for _, c := range cmds {
		m = run(t, m, c)
	}
	if chat.activity != 5 {
		t.Errorf("typing activity = %d, want one per keystroke", chat.activity)
	}

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	if m.input.Value() != "" {
		t.Error("input should clear on send")
	}
	if !strings.Contains(m.View(), "sending...") {
		t.Error("optimistic message not shown")
	}
	m = run(t, m, cmd)

	if len(api.sent) != 1 || api.sent[0] != "hello" {
		t.Errorf("sent = %v", api.sent)
	}
	if chat.stops != 1 {
		t.Errorf("StopTyping calls = %d, want 1", chat.stops)
	}
	if m.transcript.Len() != 2 || strings.Contains(m.View(), "sending...") {
		t.Error("sent message not confirmed")
	}

	// Socket echo of the persisted message is ignored.
	echo := m.transcript.Messages()[1]
	m = update(t, m, messageMsg(echo))
	if m.transcript.Len() != 2 {
		t.Errorf("echo duplicated the message: %d", m.transcript.Len())
	}
}

func TestSend_FailureRestoresInput(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("503 service unavailable")}
	m, _, _ := newTestModel(t, api)

	m, _ = typeText(t, m, "where is my transfer")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = run(t, next.(Model), cmd)

	if got := m.input.Value(); got != "where is my transfer" {
		t.Errorf("input = %q, want the unsent text restored", got)
	}
	if m.transcript.Len() != 1 {
		t.Errorf("transcript has %d messages, want 1", m.transcript.Len())
	}
	if !strings.Contains(m.View(), "Message not sent") {
		t.Error("failure notice not shown")
	}
}

func TestSend_IgnoresBlankInput(t *testing.T) {
	m, _, _ := newTestModel(t, &fakeAPI{})
	m, _ = typeText(t, m, "   ")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil {
		t.Error("blank input should not be sent")
	}
}

func TestNotification(t *testing.T) {
	m, _, _ := newTestModel(t, &fakeAPI{unread: 3})
	obs := m.bridge.notificationObservers()
	go obs.OnNotification(support.Notification{ID: 1, Title: "Card blocked", Priority: support.PriorityUrgent})

	next, cmd := m.Update(mustRecv(t, m))
	m = run(t, next.(Model), cmd)
	v := m.View()
	if !strings.Contains(v, "Card blocked") || !strings.Contains(v, "3 unread") {
		t.Errorf("View() = %s", v)
	}
}

func mustRecv(t *testing.T, m Model) tea.Msg {
	t.Helper()
	select {
	case msg := <-m.bridge.events:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no event")
		return nil
	}
}

func TestReconnectAndQuit(t *testing.T) {
	m, chat, notify := newTestModel(t, &fakeAPI{})

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	m = run(t, next.(Model), cmd)
	if len(chat.opened) != 1 {
		t.Errorf("ctrl+r opened %d sessions, want 1", len(chat.opened))
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if cmd == nil {
		t.Fatal("esc should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("esc did not return tea.Quit")
	}
	if chat.closed == 0 || notify.closed == 0 {
		t.Error("quit should close both sockets")
	}
}

func TestConnectionLogOverlay(t *testing.T) {
	m, chat, _ := newTestModel(t, &fakeAPI{})
	m = update(t, m, statusMsg(realtime.StatusEvent{State: realtime.StateReconnecting, Attempt: 2, Delay: 2 * time.Second, Code: 1006}))

	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlL})
	v := m.View()
	if !strings.Contains(v, "CONNECTION LOG") || !strings.Contains(v, "reconnecting attempt 2 in 2s (close 1006)") {
		t.Fatalf("log overlay not shown:\n%s", v)
	}

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)
	if cmd != nil || chat.closed != 0 {
		t.Error("esc with the overlay open should only close the overlay")
	}
	if strings.Contains(m.View(), "CONNECTION LOG") {
		t.Error("overlay still shown after esc")
	}
}
