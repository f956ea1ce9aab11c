package chattest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/woedy/snelroi-chat/internal/support"
)

var (
	alice = User{ID: 1, Name: "Alice", Email: "alice@example.com"}
	bob   = User{ID: 2, Name: "Bob", Email: "bob@example.com"}
	agent = User{ID: 9, Name: "Dana", Staff: true}
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	store := NewStore()
	store.AddUser("alice-token", alice)
	store.AddUser("bob-token", bob)
	store.AddUser("agent-token", agent)
	srv := NewServer(store, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func dialChat(t *testing.T, ts *httptest.Server, id int64, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/support/chat/" + strconv.FormatInt(id, 10) + "/?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestChatSocket_ConnectionEstablished(t *testing.T) {
	srv, ts := newTestServer(t)
	conv := srv.Store().SeedConversation(alice)

	conn := dialChat(t, ts, conv.ID, "alice-token")
	f := readFrame(t, conn)
	if f["type"] != "connection_established" {
		t.Fatalf("first frame type = %v, want connection_established", f["type"])
	}
	waitFor(t, "registered connection", func() bool { return srv.Connections(conv.ID) == 1 })
	if srv.Accepted() != 1 {
		t.Errorf("Accepted() = %d, want 1", srv.Accepted())
	}
}

func TestChatSocket_Unauthorized(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"unknown token", "nope"},
		{"other customer", "bob-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, ts := newTestServer(t)
			conv := srv.Store().SeedConversation(alice)

			conn := dialChat(t, ts, conv.ID, tt.token)
			f := readFrame(t, conn)
			if f["type"] != "error" {
				t.Fatalf("frame type = %v, want error", f["type"])
			}
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, err := conn.ReadMessage()
			if !websocket.IsCloseError(err, CloseUnauthorized) {
				t.Fatalf("read err = %v, want close %d", err, CloseUnauthorized)
			}
		})
	}
}

func TestChatSocket_StaffMayJoinAnyConversation(t *testing.T) {
	srv, ts := newTestServer(t)
	conv := srv.Store().SeedConversation(alice)

	conn := dialChat(t, ts, conv.ID, "agent-token")
	if f := readFrame(t, conn); f["type"] != "connection_established" {
		t.Fatalf("frame type = %v, want connection_established", f["type"])
	}
}

func TestChatSocket_PresenceAndTypingRelay(t *testing.T) {
	srv, ts := newTestServer(t)
	conv := srv.Store().SeedConversation(alice)

	customer := dialChat(t, ts, conv.ID, "alice-token")
	readFrame(t, customer)
	waitFor(t, "customer joined", func() bool { return srv.Connections(conv.ID) == 1 })

	staff := dialChat(t, ts, conv.ID, "agent-token")
	readFrame(t, staff)

	if f := readFrame(t, customer); f["type"] != "user_status" || f["status"] != "online" {
		t.Fatalf("customer got %v, want user_status online", f)
	}

	if err := staff.WriteJSON(map[string]interface{}{"type": "typing", "is_typing": true}); err != nil {
		t.Fatal(err)
	}
	f := readFrame(t, customer)
	if f["type"] != "typing" || f["is_typing"] != true || f["sender_type"] != "ADMIN" {
		t.Fatalf("customer got %v, want ADMIN typing", f)
	}
	waitFor(t, "typing log", func() bool { return len(srv.TypingLog()) == 1 })

	staff.Close()
	if f := readFrame(t, customer); f["type"] != "user_status" || f["status"] != "offline" {
		t.Fatalf("customer got %v, want user_status offline", f)
	}
}

func TestChatSocket_PingPongAndErrors(t *testing.T) {
	srv, ts := newTestServer(t)
	conv := srv.Store().SeedConversation(alice)
	conn := dialChat(t, ts, conv.ID, "alice-token")
	readFrame(t, conn)

	tests := []struct {
		name    string
		send    string
		want    string
		wantMsg string
	}{
		{"ping", `{"type":"ping"}`, "pong", ""},
		{"invalid json", `{not json`, "error", "Invalid message format"},
		{"empty message", `{"type":"message","message":"   "}`, "error", "Message cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.send)); err != nil {
				t.Fatal(err)
			}
			f := readFrame(t, conn)
			if f["type"] != tt.want {
				t.Fatalf("type = %v, want %s", f["type"], tt.want)
			}
			if tt.wantMsg != "" && f["message"] != tt.wantMsg {
				t.Errorf("message = %v, want %q", f["message"], tt.wantMsg)
			}
		})
	}
	if srv.Pings() != 1 {
		t.Errorf("Pings() = %d, want 1", srv.Pings())
	}
}

func TestChatSocket_MessageBroadcastToSender(t *testing.T) {
	srv, ts := newTestServer(t)
	conv := srv.Store().SeedConversation(alice)
	conn := dialChat(t, ts, conv.ID, "alice-token")
	readFrame(t, conn)

	if err := conn.WriteJSON(map[string]string{"type": "message", "message": "hello"}); err != nil {
		t.Fatal(err)
	}
	f := readFrame(t, conn)
	if f["type"] != "message" {
		t.Fatalf("type = %v, want message", f["type"])
	}
	body, _ := f["message"].(map[string]interface{})
	if body["message"] != "hello" || body["sender_type"] != "CUSTOMER" || body["id"] != float64(1) {
		t.Errorf("message body = %v", body)
	}
}

func TestKick(t *testing.T) {
	tests := []struct {
		name string
		code int
		want func(error) bool
	}{
		{"normal", websocket.CloseNormalClosure, func(err error) bool {
			return websocket.IsCloseError(err, websocket.CloseNormalClosure)
		}},
		{"going away", websocket.CloseGoingAway, func(err error) bool {
			return websocket.IsCloseError(err, websocket.CloseGoingAway)
		}},
		{"abnormal", websocket.CloseAbnormalClosure, func(err error) bool {
			_, isClose := err.(*websocket.CloseError)
			return err != nil && (!isClose || websocket.IsCloseError(err, websocket.CloseAbnormalClosure))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, ts := newTestServer(t)
			conv := srv.Store().SeedConversation(alice)
			conn := dialChat(t, ts, conv.ID, "alice-token")
			readFrame(t, conn)
			waitFor(t, "connection", func() bool { return srv.Connections(conv.ID) == 1 })

			if n := srv.Kick(conv.ID, tt.code); n != 1 {
				t.Fatalf("Kick closed %d sockets, want 1", n)
			}
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, err := conn.ReadMessage()
			if !tt.want(err) {
				t.Fatalf("read err = %v", err)
			}
		})
	}
}

func TestUnavailableRefusesHandshake(t *testing.T) {
	srv, ts := newTestServer(t)
	conv := srv.Store().SeedConversation(alice)
	srv.SetAvailable(false)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/support/chat/" + strconv.FormatInt(conv.ID, 10) + "/?token=alice-token"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail while unavailable")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("resp = %v, want 503", resp)
	}

	srv.SetAvailable(true)
	conn := dialChat(t, ts, conv.ID, "alice-token")
	readFrame(t, conn)
}

func TestNotificationSocket(t *testing.T) {
	srv, ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/notifications/?token=alice-token"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	waitFor(t, "notification peer", func() bool { return srv.hub.count(notifyRoom(alice.ID)) == 1 })
	sent := srv.PushNotification(alice.ID, support.Notification{Title: "Card locked", Priority: support.PriorityUrgent})
	if sent.ID == 0 {
		t.Fatal("PushNotification did not assign an id")
	}

	f := readFrame(t, conn)
	if f["type"] != "notification" {
		t.Fatalf("type = %v, want notification", f["type"])
	}
	n, _ := f["notification"].(map[string]interface{})
	if n["title"] != "Card locked" || n["priority"] != "URGENT" {
		t.Errorf("notification = %v", n)
	}
}

func TestREST_RequiresAuth(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/support/conversations")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["detail"] == "" {
		t.Error("expected detail in error body")
	}
}
