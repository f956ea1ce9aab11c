package app

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/woedy/snelroi-chat/internal/realtime"
	"github.com/woedy/snelroi-chat/internal/support"
)

// Messages produced by realtime observers.
type (
	messageMsg      support.ChatMessage
	typingMsg       realtime.TypingEvent
	presenceMsg     realtime.PresenceEvent
	statusMsg       realtime.StatusEvent
	serverErrorMsg  realtime.ErrorEvent
	notificationMsg support.Notification
)

// bridge turns observer callbacks into tea.Msgs. Observers run on the
// realtime dispatcher goroutine; the program pulls one event per waitCmd.
type bridge struct {
	ctx    context.Context
	events chan tea.Msg
}

func newBridge(ctx context.Context) *bridge {
	return &bridge{ctx: ctx, events: make(chan tea.Msg, 64)}
}

func (b *bridge) emit(msg tea.Msg) {
	select {
	case b.events <- msg:
	case <-b.ctx.Done():
	}
}

// chatObservers are registered for the conversation socket.
func (b *bridge) chatObservers() realtime.Observers {
	return realtime.Observers{
		OnMessage:  func(m support.ChatMessage) { b.emit(messageMsg(m)) },
		OnTyping:   func(ev realtime.TypingEvent) { b.emit(typingMsg(ev)) },
		OnPresence: func(ev realtime.PresenceEvent) { b.emit(presenceMsg(ev)) },
		OnStatus:   func(ev realtime.StatusEvent) { b.emit(statusMsg(ev)) },
		OnError:    func(ev realtime.ErrorEvent) { b.emit(serverErrorMsg(ev)) },
	}
}

// notificationObservers are registered for the notification socket. Its
// status changes are not shown.
func (b *bridge) notificationObservers() realtime.Observers {
	return realtime.Observers{
		OnNotification: func(n support.Notification) { b.emit(notificationMsg(n)) },
	}
}

// waitCmd blocks until the next event, or returns nil once ctx is done.
func (b *bridge) waitCmd() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-b.events:
			return msg
		case <-b.ctx.Done():
			return nil
		}
	}
}
