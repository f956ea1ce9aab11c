// Package typing renders the "agent is typing" indicator. The dots bounce on
// a harmonica spring while the counterpart is typing.
package typing

import (
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
	"github.com/woedy/snelroi-chat/internal/theme"
)

const (
	fps = 30

	maxDots = 3

	// StaleAfter hides the indicator when no stop signal arrives, as when
	// the agent's connection drops mid-burst.
	StaleAfter = 8 * time.Second
)

// FrameMsg advances the animation.
type FrameMsg time.Time

// Model is the typing indicator.
type Model struct {
	Label string

	active  bool
	since   time.Time
	spring  harmonica.Spring
	pos     float64
	vel     float64
	target  float64
	ticking bool
}

// New returns a hidden indicator labelled label.
func New(label string) Model {
	return Model{
		Label:  label,
		spring: harmonica.NewSpring(harmonica.FPS(fps), 6.0, 0.3),
		target: maxDots,
	}
}

// Active reports whether the indicator is shown.
func (m Model) Active() bool { return m.active }

// Set shows or hides the indicator. The returned command starts the
// animation when it is not already running.
func (m Model) Set(isTyping bool, now time.Time) (Model, tea.Cmd) {
	m.active = isTyping
	if !isTyping {
		m.pos, m.vel = 0, 0
		return m, nil
	}
	m.since = now
	if m.ticking {
		return m, nil
	}
	m.ticking = true
	return m, tick()
}

// Update advances the spring on each frame and stops ticking once hidden.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	frame, ok := msg.(FrameMsg)
	if !ok {
		return m, nil
	}
	if m.active && time.Time(frame).Sub(m.since) > StaleAfter {
		m.active = false
	}
	if !m.active {
		m.ticking = false
		m.pos, m.vel = 0, 0
		return m, nil
	}

	m.pos, m.vel = m.spring.Update(m.pos, m.vel, m.target)
	if math.Abs(m.pos-m.target) < 0.1 {
		if m.target == 0 {
			m.target = maxDots
		} else {
			m.target = 0
		}
	}
	return m, tick()
}

// Dots returns the number of dots currently drawn.
func (m Model) Dots() int {
	n := int(math.Round(m.pos))
	if n < 0 {
		return 0
	}
	if n > maxDots {
		return maxDots
	}
	return n
}

// View renders the indicator, or an empty line when hidden.
func (m Model) View() string {
	if !m.active {
		return ""
	}
	dots := strings.Repeat(".", m.Dots()) + strings.Repeat(" ", maxDots-m.Dots())
	return lipgloss.NewStyle().
		Italic(true).
		Foreground(theme.ColorAgent).
		Render("  " + m.Label + dots)
}

func tick() tea.Cmd {
	return tea.Tick(time.Second/fps, func(t time.Time) tea.Msg {
		return FrameMsg(t)
	})
}
