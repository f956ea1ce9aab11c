// Package theme provides the Lip Gloss color palette and reusable styles for
// the support chat TUI. It is a leaf package with no internal imports to
// avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Sender colors.
var (
	ColorCustomer = lipgloss.Color("#3b82f6")
	ColorAgent    = lipgloss.Color("#a855f7")
	ColorSystem   = lipgloss.Color("#9ca3af")
)

// Connection state colors.
var (
	ColorConnected    = lipgloss.Color("#22c55e")
	ColorConnecting   = lipgloss.Color("#7c3aed")
	ColorReconnecting = lipgloss.Color("#d97706")
	ColorDisconnected = lipgloss.Color("#4b5563")
	ColorFailed       = lipgloss.Color("#dc2626")
	ColorDefault      = lipgloss.Color("#9ca3af")
)

// Notification priority colors.
var (
	ColorPriorityLow    = lipgloss.Color("#6b7280")
	ColorPriorityMedium = lipgloss.Color("#3b82f6")
	ColorPriorityHigh   = lipgloss.Color("#d97706")
	ColorPriorityUrgent = lipgloss.Color("#dc2626")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorBg      = lipgloss.Color("#111827")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// StateColor returns the color for a connection state name.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "connected":
		return ColorConnected
	case "connecting":
		return ColorConnecting
	case "reconnecting":
		return ColorReconnecting
	case "disconnected", "idle":
		return ColorDisconnected
	case "failed":
		return ColorFailed
	default:
		return ColorDefault
	}
}

// StateGlyph returns a Unicode glyph for a connection state name.
func StateGlyph(state string) string {
	switch state {
	case "connected":
		return "●"
	case "connecting":
		return "◎"
	case "reconnecting":
		return "◌"
	case "disconnected", "idle":
		return "○"
	case "failed":
		return "✗"
	default:
		return "·"
	}
}

// SenderColor returns the color for a message sender type.
func SenderColor(senderType string) lipgloss.Color {
	switch senderType {
	case "CUSTOMER":
		return ColorCustomer
	case "ADMIN":
		return ColorAgent
	default:
		return ColorSystem
	}
}

// PriorityColor returns the color for a notification priority.
func PriorityColor(priority string) lipgloss.Color {
	switch priority {
	case "LOW":
		return ColorPriorityLow
	case "HIGH":
		return ColorPriorityHigh
	case "URGENT":
		return ColorPriorityUrgent
	default:
		return ColorPriorityMedium
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorDanger)
)
