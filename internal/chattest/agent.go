package chattest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/woedy/snelroi-chat/internal/support"
	"go.uber.org/zap"
)

// Agent answers customer messages as a staff user: it waits, shows a typing
// indicator, then posts a canned reply.
type Agent struct {
	server *Server
	user   User
	think  time.Duration
	typing time.Duration
	log    *zap.Logger

	mu   sync.Mutex
	next int
}

type cannedReply struct {
	keywords []string
	text     string
}

var cannedReplies = []cannedReply{
	{keywords: []string{"balance", "account"},
		text: "I can see your account. Balances update within a few minutes of each **posted** transaction."},
	{keywords: []string{"card", "blocked", "declined"},
		text: "I've checked your card. You can unblock it under *Cards > Manage*, or I can do it for you now."},
	{keywords: []string{"transfer", "send", "wire"},
		text: "Transfers are processed on business days. Could you share the **reference number**?"},
	{keywords: []string{"loan", "interest"},
		text: "Our loan team will follow up. Current rates:\n\n- Personal: 11.5%\n- Auto: 8.9%"},
}

var fallbackReplies = []string{
	"Thanks for reaching out! Let me look into that for you.",
	"Got it. Give me a moment while I check.",
	"Is there anything else I can help you with today?",
}

// NewAgent creates an agent that answers as user on server.
func NewAgent(server *Server, user User, think, typing time.Duration) *Agent {
	return &Agent{
		server: server,
		user:   user,
		think:  think,
		typing: typing,
		log:    server.log.Named("agent"),
	}
}

// Start subscribes the agent to customer messages until ctx is done.
func (a *Agent) Start(ctx context.Context) {
	a.server.OnMessage(func(id int64, msg support.ChatMessage) {
		if msg.SenderType != support.SenderCustomer {
			return
		}
		go a.respond(ctx, id, msg)
	})
}

func (a *Agent) respond(ctx context.Context, id int64, msg support.ChatMessage) {
	if !sleep(ctx, a.think) {
		return
	}
	a.server.SendTyping(id, support.SenderAdmin, true)
	if !sleep(ctx, a.typing) {
		a.server.SendTyping(id, support.SenderAdmin, false)
		return
	}
	a.server.SendTyping(id, support.SenderAdmin, false)

	if _, err := a.server.PostMessage(a.user, id, a.reply(msg.Message)); err != nil {
		a.log.Warn("agent reply failed", zap.Int64("conversation", id), zap.Error(err))
	}
}

// reply picks a keyword match or cycles through the fallbacks.
func (a *Agent) reply(text string) string {
	lower := strings.ToLower(text)
	for _, r := range cannedReplies {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.text
			}
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	r := fallbackReplies[a.next%len(fallbackReplies)]
	a.next++
	return r
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
