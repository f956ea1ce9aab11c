// Package app is the Bubble Tea model of the support chat client.
package app

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/woedy/snelroi-chat/internal/realtime"
	"github.com/woedy/snelroi-chat/internal/support"
	"github.com/woedy/snelroi-chat/internal/theme"
	"github.com/woedy/snelroi-chat/internal/views/eventlog"
	"github.com/woedy/snelroi-chat/internal/views/status"
	"github.com/woedy/snelroi-chat/internal/views/transcript"
	"github.com/woedy/snelroi-chat/internal/views/typing"
	"go.uber.org/zap"
)

const (
	requestTimeout = 15 * time.Second
	maxMessageLen  = 2000
)

// Session is the realtime connection the model drives.
type Session interface {
	Open(ctx context.Context, conversationID string, obs realtime.Observers) error
	NotifyTypingActivity()
	StopTyping()
	Close()
}

// API is the subset of the support REST client the model uses.
type API interface {
	GetConversation(ctx context.Context, id int64) (*support.Conversation, error)
	SendMessage(ctx context.Context, id int64, text string) (*support.ChatMessage, error)
	UnreadCount(ctx context.Context) (int, error)
}

// Options wires the model's collaborators. Notifications and Logger are
// optional.
type Options struct {
	Chat          Session
	Notifications Session
	API           API
	Conversation  support.Conversation
	MaxAttempts   int
	MarkdownStyle string
	Logger        *zap.Logger
}

// Results of REST commands.
type (
	sentMsg struct {
		ref int
		msg *support.ChatMessage
		err error
	}
	historyMsg struct {
		conv *support.Conversation
		err  error
	}
	unreadMsg struct {
		n   int
		err error
	}
	openErrMsg struct{ err error }
)

// Model is the root Bubble Tea model.
type Model struct {
	chat   Session
	notify Session
	api    API
	log    *zap.Logger
	bridge *bridge
	ctx    context.Context
	cancel context.CancelFunc

	conversationID int64
	keys           KeyMap
	help           help.Model
	width          int
	height         int

	statusBar  status.Model
	transcript *transcript.Model
	typing     typing.Model
	viewport   viewport.Model
	input      textinput.Model
	events     *eventlog.Model
	showLog    bool

	// notice is the last error or notification shown above the input.
	notice      string
	noticeError bool
	// resync is set after a drop so the next connect backfills history.
	resync bool
}

// New creates the root model. History already present on opts.Conversation
// is shown immediately.
func New(opts Options) Model {
	ctx, cancel := context.WithCancel(context.Background())
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	in := textinput.New()
	in.Placeholder = "Type a message..."
	in.CharLimit = maxMessageLen
	in.Prompt = "> "
	in.Focus()

	evlog := eventlog.New()

	tr := transcript.New(opts.MarkdownStyle)
	tr.Load(opts.Conversation.Messages)

	sb := status.New(opts.MaxAttempts)
	sb.ConversationID = strconv.FormatInt(opts.Conversation.ID, 10)
	sb.Unread = opts.Conversation.UnreadCount

	return Model{
		chat:           opts.Chat,
		notify:         opts.Notifications,
		api:            opts.API,
		log:            log.Named("app"),
		bridge:         newBridge(ctx),
		ctx:            ctx,
		cancel:         cancel,
		conversationID: opts.Conversation.ID,
		keys:           DefaultKeyMap(),
		help:           help.New(),
		statusBar:      sb,
		transcript:     &tr,
		typing:         typing.New("Support is typing"),
		viewport:       viewport.New(80, 10),
		input:          in,
		events:         &evlog,
	}
}

// Init opens the sockets and starts pulling realtime events.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.openCmd(), m.bridge.waitCmd())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.transcript.Width = msg.Width
		m.input.Width = msg.Width - 4
		m.help.Width = msg.Width
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case messageMsg:
		if m.transcript.Add(support.ChatMessage(msg)) {
			m.refresh()
		}
		if msg.SenderType == support.SenderAdmin {
			m.typing, _ = m.typing.Set(false, time.Now())
		}
		return m, m.bridge.waitCmd()

	case typingMsg:
		var cmd tea.Cmd
		m.typing, cmd = m.typing.Set(msg.IsTyping, time.Now())
		return m, tea.Batch(cmd, m.bridge.waitCmd())

	case presenceMsg:
		m.statusBar.AgentOnline = msg.Status == realtime.PresenceOnline
		return m, m.bridge.waitCmd()

	case statusMsg:
		return m.handleStatus(realtime.StatusEvent(msg))

	case serverErrorMsg:
		m.events.Add(time.Now(), eventlog.KindError, msg.Message)
		m.setNotice(msg.Message, true)
		return m, m.bridge.waitCmd()

	case notificationMsg:
		n := support.Notification(msg)
		m.events.Add(time.Now(), eventlog.KindNotification, n.Title)
		m.setNotice(n.Title, n.Urgent())
		return m, tea.Batch(m.unreadCmd(), m.bridge.waitCmd())

	case sentMsg:
		if msg.err != nil {
			text := m.transcript.Fail(msg.ref)
			if m.input.Value() == "" {
				m.input.SetValue(text)
				m.input.CursorEnd()
			}
			m.setNotice("Message not sent: "+msg.err.Error(), true)
			m.log.Warn("send failed", zap.Error(msg.err))
		} else {
			m.transcript.Confirm(msg.ref, *msg.msg)
		}
		m.refresh()
		return m, nil

	case historyMsg:
		if msg.err != nil {
			m.log.Warn("history refresh failed", zap.Error(msg.err))
			return m, nil
		}
		m.transcript.Load(msg.conv.Messages)
		m.statusBar.Unread = msg.conv.UnreadCount
		m.refresh()
		return m, nil

	case unreadMsg:
		if msg.err == nil {
			m.statusBar.Unread = msg.n
		}
		return m, nil

	case openErrMsg:
		m.events.Add(time.Now(), eventlog.KindError, msg.err.Error())
		m.setNotice(msg.err.Error(), true)
		return m, nil

	case typing.FrameMsg:
		var cmd tea.Cmd
		m.typing, cmd = m.typing.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showLog {
		switch {
		case key.Matches(msg, m.keys.Escape), key.Matches(msg, m.keys.Log):
			m.showLog = false
		case key.Matches(msg, m.keys.PageUp):
			m.events.Scroll(5)
		case key.Matches(msg, m.keys.PageDown):
			m.events.Scroll(-5)
		case key.Matches(msg, m.keys.Quit):
			m.shutdown()
			return m, tea.Quit
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Log):
		m.showLog = true
		return m, nil

	case key.Matches(msg, m.keys.Quit):
		m.shutdown()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Reconnect):
		m.setNotice("", false)
		return m, m.openCmd()

	case key.Matches(msg, m.keys.Send):
		return m.send()

	case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if after := m.input.Value(); after != before && after != "" {
		return m, tea.Batch(cmd, m.typingActivityCmd())
	}
	return m, cmd
}

func (m Model) handleStatus(ev realtime.StatusEvent) (tea.Model, tea.Cmd) {
	m.statusBar.Apply(ev)
	m.events.AddStatus(time.Now(), ev)
	cmds := []tea.Cmd{m.bridge.waitCmd()}
	switch ev.State {
	case realtime.StateReconnecting, realtime.StateDisconnected:
		m.resync = true
		m.typing, _ = m.typing.Set(false, time.Now())
	case realtime.StateFailed:
		m.resync = true
		m.typing, _ = m.typing.Set(false, time.Now())
		m.setNotice("Unable to reach support chat. Press ctrl+r to try again.", true)
	case realtime.StateConnected:
		if m.resync {
			m.resync = false
			cmds = append(cmds, m.historyCmd())
		}
		if m.noticeError {
			m.setNotice("", false)
		}
	}
	return m, tea.Batch(cmds...)
}

func (m Model) send() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	if strings.TrimSpace(text) == "" {
		return m, nil
	}
	ref := m.transcript.AddPending(text)
	m.input.Reset()
	m.refresh()
	return m, m.sendCmd(ref, text)
}

// Shutdown closes both sockets. It is safe to call more than once.
func (m Model) Shutdown() { m.shutdown() }

func (m Model) shutdown() {
	m.cancel()
	if m.chat != nil {
		m.chat.Close()
	}
	if m.notify != nil {
		m.notify.Close()
	}
}

func (m Model) openCmd() tea.Cmd {
	chat, notify, b, ctx := m.chat, m.notify, m.bridge, m.ctx
	id := strconv.FormatInt(m.conversationID, 10)
	return func() tea.Msg {
		if err := chat.Open(ctx, id, b.chatObservers()); err != nil {
			return openErrMsg{err: err}
		}
		if notify != nil {
			if err := notify.Open(ctx, "", b.notificationObservers()); err != nil {
				return openErrMsg{err: err}
			}
		}
		return nil
	}
}

func (m Model) sendCmd(ref int, text string) tea.Cmd {
	api, chat, ctx, id := m.api, m.chat, m.ctx, m.conversationID
	return func() tea.Msg {
		chat.StopTyping()
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		msg, err := api.SendMessage(ctx, id, text)
		return sentMsg{ref: ref, msg: msg, err: err}
	}
}

func (m Model) historyCmd() tea.Cmd {
	api, ctx, id := m.api, m.ctx, m.conversationID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		conv, err := api.GetConversation(ctx, id)
		return historyMsg{conv: conv, err: err}
	}
}

func (m Model) unreadCmd() tea.Cmd {
	api, ctx := m.api, m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		n, err := api.UnreadCount(ctx)
		return unreadMsg{n: n, err: err}
	}
}

func (m Model) typingActivityCmd() tea.Cmd {
	chat := m.chat
	return func() tea.Msg {
		chat.NotifyTypingActivity()
		return nil
	}
}

func (m *Model) setNotice(text string, isError bool) {
	m.notice = text
	m.noticeError = isError && text != ""
}

// layout sizes the transcript viewport to whatever the fixed rows leave.
func (m *Model) layout() {
	fixed := lipgloss.Height(m.statusBar.View()) + 4 // typing, notice, input, help
	h := m.height - fixed
	if h < 3 {
		h = 3
	}
	m.viewport.Width = m.width
	m.viewport.Height = h
	m.refresh()
}

func (m *Model) refresh() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.transcript.View())
	if atBottom || m.viewport.TotalLineCount() <= m.viewport.Height {
		m.viewport.GotoBottom()
	}
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	notice := ""
	if m.notice != "" {
		style := theme.StyleDimmed
		if m.noticeError {
			style = theme.StyleError
		}
		notice = style.Render("  " + m.notice)
	}

	body := m.viewport.View()
	if m.showLog {
		body = m.events.View(m.width, m.viewport.Height+2)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.statusBar.View(),
		body,
		m.typing.View(),
		notice,
		m.input.View(),
		theme.StyleDimmed.Render(m.help.View(m.keys)),
	)
}
