// Package chattest is an in-process stand-in for the banking backend's
// support endpoints: the REST conversation resource, the support chat socket
// and the notification socket. It backs the mock server binary and the
// package tests, and exposes controls to refuse handshakes, drop sockets and
// inject frames.
package chattest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/woedy/snelroi-chat/internal/redact"
	"github.com/woedy/snelroi-chat/internal/support"
	"go.uber.org/zap"
)

// CloseUnauthorized is sent when a socket's token cannot join the room.
const CloseUnauthorized = 4001

// TypingRecord is one typing frame received from a client.
type TypingRecord struct {
	ConversationID int64
	UserID         int64
	IsTyping       bool
	At             time.Time
}

type ctxKey struct{}

// Server serves the mock backend.
type Server struct {
	store    *Store
	hub      *hub
	log      *zap.Logger
	upgrader websocket.Upgrader

	unavailable atomic.Bool
	accepted    atomic.Int64
	pings       atomic.Int64
	nextNotice  atomic.Int64

	mu        sync.Mutex
	typing    []TypingRecord
	onMessage []func(conversationID int64, msg support.ChatMessage)
}

// NewServer returns a server over store. log may be nil.
func NewServer(store *Store, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		store: store,
		hub:   newHub(log),
		log:   log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Store returns the backing store.
func (s *Server) Store() *Store { return s.store }

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(s.availability)

	r.Get("/ws/support/chat/{conversationID:[0-9]+}/", s.handleChatSocket)
	r.Get("/ws/notifications/", s.handleNotificationSocket)

	r.Route("/api/support", func(r chi.Router) {
		r.Use(s.requireUser)
		r.Post("/conversations", s.handleGetOrCreate)
		r.Get("/conversations", s.handleList)
		r.Get("/conversations/{conversationID:[0-9]+}", s.handleGet)
		r.Patch("/conversations/{conversationID:[0-9]+}", s.handleStatus)
		r.Post("/conversations/{conversationID:[0-9]+}/messages", s.handleSend)
		r.Get("/unread-count", s.handleUnreadCount)
	})
	return r
}

// SetAvailable toggles whether new requests are served. While unavailable
// every request, including socket handshakes, gets 503.
func (s *Server) SetAvailable(ok bool) { s.unavailable.Store(!ok) }

// Accepted returns how many sockets have been upgraded.
func (s *Server) Accepted() int64 { return s.accepted.Load() }

// Pings returns how many ping frames clients have sent.
func (s *Server) Pings() int64 { return s.pings.Load() }

// Connections returns the open chat sockets for a conversation.
func (s *Server) Connections(conversationID int64) int {
	return s.hub.count(chatRoom(conversationID))
}

// TypingLog returns the typing frames received so far.
func (s *Server) TypingLog() []TypingRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TypingRecord(nil), s.typing...)
}

// OnMessage registers fn to run after a customer message is persisted.
func (s *Server) OnMessage(fn func(conversationID int64, msg support.ChatMessage)) {
	s.mu.Lock()
	s.onMessage = append(s.onMessage, fn)
	s.mu.Unlock()
}

// Kick ends every chat socket of a conversation. websocket.CloseAbnormalClosure
// drops the TCP connection without a close frame; any other code is sent as a
// close frame first.
func (s *Server) Kick(conversationID int64, code int) int {
	peers := s.hub.peers(chatRoom(conversationID))
	for _, p := range peers {
		s.closePeer(p, code)
	}
	return len(peers)
}

// KickNotifications ends every notification socket of a user.
func (s *Server) KickNotifications(userID int64, code int) int {
	peers := s.hub.peers(notifyRoom(userID))
	for _, p := range peers {
		s.closePeer(p, code)
	}
	return len(peers)
}

func (s *Server) closePeer(p *peer, code int) {
	if code != websocket.CloseAbnormalClosure {
		msg := websocket.FormatCloseMessage(code, "")
		_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	}
	p.conn.Close()
}

// PostMessage persists a message from sender and broadcasts it to the room.
func (s *Server) PostMessage(sender User, conversationID int64, text string) (support.ChatMessage, error) {
	msg, err := s.store.Append(sender, conversationID, text)
	if err != nil {
		return msg, err
	}
	s.hub.broadcast(chatRoom(conversationID), messageFrame{Type: "message", Message: msg}, nil)
	if !sender.Staff {
		s.mu.Lock()
		hooks := append([]func(int64, support.ChatMessage){}, s.onMessage...)
		s.mu.Unlock()
		for _, fn := range hooks {
			fn(conversationID, msg)
		}
	}
	return msg, nil
}

// SendTyping broadcasts a typing frame as if sent by a participant of kind
// sender.
func (s *Server) SendTyping(conversationID int64, sender support.SenderType, isTyping bool) {
	s.hub.broadcast(chatRoom(conversationID), typingFrame{Type: "typing", IsTyping: isTyping, SenderType: sender}, nil)
}

// SendFrame broadcasts an arbitrary frame to a conversation's sockets.
func (s *Server) SendFrame(conversationID int64, v interface{}) {
	s.hub.broadcast(chatRoom(conversationID), v, nil)
}

// SendRaw broadcasts raw bytes, which need not be valid JSON.
func (s *Server) SendRaw(conversationID int64, data []byte) {
	s.hub.broadcastRaw(chatRoom(conversationID), data, nil)
}

// PushNotification assigns an id and timestamp if missing and delivers n to
// the user's notification sockets.
func (s *Server) PushNotification(userID int64, n support.Notification) support.Notification {
	if n.ID == 0 {
		n.ID = s.nextNotice.Add(1)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.Priority == "" {
		n.Priority = support.PriorityMedium
	}
	s.hub.broadcast(notifyRoom(userID), notificationFrame{Type: "notification", Notification: n}, nil)
	return n
}

// --- wire frames ---

type inboundFrame struct {
	Type     string          `json:"type"`
	Message  json.RawMessage `json:"message"`
	IsTyping bool            `json:"is_typing"`
}

type textFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type messageFrame struct {
	Type    string              `json:"type"`
	Message support.ChatMessage `json:"message"`
}

type typingFrame struct {
	Type       string             `json:"type"`
	IsTyping   bool               `json:"is_typing"`
	SenderType support.SenderType `json:"sender_type"`
}

type statusFrame struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type notificationFrame struct {
	Type         string               `json:"type"`
	Notification support.Notification `json:"notification"`
}

func chatRoom(id int64) string   { return "chat:" + strconv.FormatInt(id, 10) }
func notifyRoom(id int64) string { return "notify:" + strconv.FormatInt(id, 10) }

// --- middleware ---

func (s *Server) availability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.unavailable.Load() {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := s.authenticate(r)
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, u)))
	})
}

// authenticate accepts "Authorization: Bearer <token>" or ?token=<token>.
func (s *Server) authenticate(r *http.Request) (User, bool) {
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" {
		return User{}, false
	}
	return s.store.UserForToken(token)
}

func userFrom(r *http.Request) User {
	u, _ := r.Context().Value(ctxKey{}).(User)
	return u
}

// --- sockets ---

func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(chi.URLParam(r, "conversationID"), 10, 64)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	s.accepted.Add(1)

	u, ok := s.authenticate(r)
	if !ok || !s.store.Authorized(u, id) {
		s.log.Warn("unauthorized chat socket",
			zap.Int64("conversation", id),
			zap.String("url", redact.URL(r.URL.String())))
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = conn.WriteJSON(textFrame{Type: "error", Message: "Unauthorized access"})
		s.closePeer(&peer{conn: conn}, CloseUnauthorized)
		return
	}

	p := newPeer(conn, u, chatRoom(id))
	s.hub.join(p)
	s.log.Info("chat socket connected", zap.Int64("conversation", id), zap.Int64("user", u.ID))
	s.hub.sendTo(p, textFrame{Type: "connection_established", Message: "Connected to chat"})
	s.hub.broadcast(p.room, statusFrame{Type: "user_status", Status: "online"}, p)

	go func() {
		defer func() {
			if s.hub.leave(p) {
				s.hub.broadcast(p.room, statusFrame{Type: "user_status", Status: "offline"}, p)
			}
			s.log.Info("chat socket disconnected", zap.Int64("conversation", id), zap.Int64("user", u.ID))
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.receiveChat(p, id, data)
		}
	}()
}

func (s *Server) receiveChat(p *peer, id int64, data []byte) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		s.hub.sendTo(p, textFrame{Type: "error", Message: "Invalid message format"})
		return
	}
	if f.Type == "" {
		f.Type = "message"
	}

	switch f.Type {
	case "message":
		var text string
		_ = json.Unmarshal(f.Message, &text)
		if strings.TrimSpace(text) == "" {
			s.hub.sendTo(p, textFrame{Type: "error", Message: "Message cannot be empty"})
			return
		}
		s.log.Debug("message received",
			zap.Int64("conversation", id),
			zap.Int64("user", p.user.ID),
			zap.String("preview", redact.Text(text)))
		if _, err := s.PostMessage(p.user, id, text); err != nil {
			s.log.Warn("save message failed", zap.Error(err))
			s.hub.sendTo(p, textFrame{Type: "error", Message: "Failed to save message"})
		}
	case "typing":
		s.mu.Lock()
		s.typing = append(s.typing, TypingRecord{ConversationID: id, UserID: p.user.ID, IsTyping: f.IsTyping, At: time.Now()})
		s.mu.Unlock()
		s.hub.broadcast(p.room, typingFrame{Type: "typing", IsTyping: f.IsTyping, SenderType: p.user.SenderType()}, p)
	case "ping":
		s.pings.Add(1)
		s.hub.sendTo(p, struct {
			Type string `json:"type"`
		}{Type: "pong"})
	}
}

func (s *Server) handleNotificationSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	s.accepted.Add(1)

	u, ok := s.authenticate(r)
	if !ok {
		s.closePeer(&peer{conn: conn}, CloseUnauthorized)
		return
	}

	p := newPeer(conn, u, notifyRoom(u.ID))
	s.hub.join(p)
	go func() {
		defer s.hub.leave(p)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f inboundFrame
			if json.Unmarshal(data, &f) == nil && f.Type == "ping" {
				s.pings.Add(1)
				s.hub.sendTo(p, struct {
					Type string `json:"type"`
				}{Type: "pong"})
			}
		}
	}()
}

// --- REST ---

func (s *Server) handleGetOrCreate(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	if u.Staff {
		writeDetail(w, http.StatusForbidden, "Staff users cannot open customer conversations.")
		return
	}
	writeJSON(w, http.StatusOK, s.store.GetOrCreate(u))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List(userFrom(r)))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	conv, err := s.store.Conversation(userFrom(r), urlID(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status support.ConversationStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	conv, err := s.store.SetStatus(userFrom(r), urlID(r), body.Status)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	msg, err := s.PostMessage(userFrom(r), urlID(r), body.Message)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"unread_count": s.store.UnreadCount(userFrom(r))})
}

func urlID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(chi.URLParam(r, "conversationID"), 10, 64)
	return id
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeDetail(w, http.StatusNotFound, "Conversation not found")
	case errors.Is(err, ErrForbidden):
		writeDetail(w, http.StatusForbidden, "You do not have permission to perform this action.")
	default:
		writeDetail(w, http.StatusBadRequest, err.Error())
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
