package chattest

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestAgent_RepliesWithTypingIndicator(t *testing.T) {
	srv, ts := newTestServer(t)
	conv := srv.Store().SeedConversation(alice)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	NewAgent(srv, agent, 5*time.Millisecond, 5*time.Millisecond).Start(ctx)

	conn := dialChat(t, ts, conv.ID, "alice-token")
	readFrame(t, conn)
	if err := conn.WriteJSON(map[string]string{"type": "message", "message": "my card was declined"}); err != nil {
		t.Fatal(err)
	}

	var types []string
	var reply string
	for len(types) < 4 {
		f := readFrame(t, conn)
		types = append(types, f["type"].(string))
		if f["type"] == "message" {
			body := f["message"].(map[string]interface{})
			if body["sender_type"] == "ADMIN" {
				reply = body["message"].(string)
			}
		}
	}

	want := []string{"message", "typing", "typing", "message"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("frames = %v, want %v", types, want)
	}
	if !strings.Contains(reply, "card") {
		t.Errorf("reply = %q, want card answer", reply)
	}
}

func TestAgent_ReplyFallbackCycles(t *testing.T) {
	srv, _ := newTestServer(t)
	a := NewAgent(srv, agent, 0, 0)

	first := a.reply("hello there")
	second := a.reply("hello again")
	if first == second {
		t.Errorf("fallback replies did not cycle: %q", first)
	}
	if got := a.reply("what's my BALANCE"); !strings.Contains(got, "account") {
		t.Errorf("keyword reply = %q", got)
	}
}

func TestAgent_StopsWithContext(t *testing.T) {
	srv, _ := newTestServer(t)
	conv := srv.Store().SeedConversation(alice)

	ctx, cancel := context.WithCancel(context.Background())
	NewAgent(srv, agent, time.Hour, time.Hour).Start(ctx)
	if _, err := srv.PostMessage(alice, conv.ID, "hello"); err != nil {
		t.Fatal(err)
	}
	cancel()
	time.Sleep(20 * time.Millisecond)

	got, _ := srv.Store().Conversation(alice, conv.ID)
	if len(got.Messages) != 1 {
		t.Fatalf("messages = %d, want only the customer's", len(got.Messages))
	}
}
