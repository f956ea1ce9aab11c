// Package transcript renders the conversation history. Messages are keyed by
// ID so repeated deliveries from the socket, the REST send response and a
// history refetch collapse into one entry.
package transcript

import (
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/woedy/snelroi-chat/internal/support"
	"github.com/woedy/snelroi-chat/internal/theme"
)

// pending is a locally sent message the backend has not confirmed yet.
type pending struct {
	ref  int
	text string
}

// Model holds the ordered, de-duplicated transcript.
type Model struct {
	Width int

	style    string
	messages []support.ChatMessage
	index    map[int64]int
	pending  []pending
	nextRef  int

	renderer      *glamour.TermRenderer
	rendererWidth int
}

// New returns an empty transcript. style names a glamour standard style
// ("dark", "light", "notty"); empty means "dark".
func New(style string) Model {
	if style == "" {
		style = "dark"
	}
	return Model{style: style, index: make(map[int64]int)}
}

// Add inserts msg unless its ID is already present. It reports whether the
// transcript changed.
func (m *Model) Add(msg support.ChatMessage) bool {
	if _, ok := m.index[msg.ID]; ok {
		return false
	}
	m.messages = append(m.messages, msg)
	sort.SliceStable(m.messages, func(i, j int) bool {
		return m.messages[i].CreatedAt.Before(m.messages[j].CreatedAt)
	})
	for i, mm := range m.messages {
		m.index[mm.ID] = i
	}
	return true
}

// Load merges a history snapshot.
func (m *Model) Load(msgs []support.ChatMessage) {
	for _, msg := range msgs {
		m.Add(msg)
	}
}

// AddPending shows text as sending and returns a reference for Confirm or
// Fail.
func (m *Model) AddPending(text string) int {
	m.nextRef++
	m.pending = append(m.pending, pending{ref: m.nextRef, text: text})
	return m.nextRef
}

// Confirm replaces the pending entry ref with the persisted message.
func (m *Model) Confirm(ref int, msg support.ChatMessage) {
	m.dropPending(ref)
	m.Add(msg)
}

// Fail removes the pending entry ref and returns its text.
func (m *Model) Fail(ref int) string {
	return m.dropPending(ref)
}

func (m *Model) dropPending(ref int) string {
	for i, p := range m.pending {
		if p.ref == ref {
			m.pending = append(m.pending[:i:i], m.pending[i+1:]...)
			return p.text
		}
	}
	return ""
}

// Len returns the number of confirmed messages.
func (m Model) Len() int { return len(m.messages) }

// Messages returns a copy of the confirmed messages in display order.
func (m Model) Messages() []support.ChatMessage {
	out := make([]support.ChatMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

// View renders every message followed by the pending ones.
func (m *Model) View() string {
	if len(m.messages) == 0 && len(m.pending) == 0 {
		return theme.StyleDimmed.Render("  No messages yet. Say hello to our support team.")
	}

	var blocks []string
	for _, msg := range m.messages {
		blocks = append(blocks, m.renderMessage(msg))
	}
	for _, p := range m.pending {
		header := senderStyle(support.SenderCustomer).Render("You") + " " + theme.StyleDimmed.Render("sending...")
		blocks = append(blocks, header+"\n"+indent(p.text))
	}
	return strings.Join(blocks, "\n")
}

func (m *Model) renderMessage(msg support.ChatMessage) string {
	name := msg.SenderName
	if name == "" {
		name = "Support"
	}
	if msg.SenderType == support.SenderCustomer {
		name = "You"
	}
	header := senderStyle(msg.SenderType).Render(name) + " " +
		theme.StyleDimmed.Render(msg.CreatedAt.Local().Format("15:04"))

	body := indent(msg.Message)
	if msg.SenderType == support.SenderAdmin {
		if out, ok := m.markdown(msg.Message); ok {
			body = out
		}
	}
	return header + "\n" + body
}

// markdown renders agent replies, which may carry lists and emphasis.
func (m *Model) markdown(text string) (string, bool) {
	width := m.Width - 4
	if width < 20 {
		width = 20
	}
	if m.renderer == nil || m.rendererWidth != width {
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(m.style),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return "", false
		}
		m.renderer, m.rendererWidth = r, width
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return "", false
	}
	return strings.TrimRight(out, "\n"), true
}

func senderStyle(t support.SenderType) lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Foreground(theme.SenderColor(string(t)))
}

func indent(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}
