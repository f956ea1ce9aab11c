// Package realtime keeps one support chat socket alive per Manager.
//
// A Manager owns at most one session at a time. Each session is tagged with a
// generation number; every goroutine and timer the session starts captures its
// generation and becomes a no-op once the Manager has moved on, so a
// superseded socket can never touch the state or observers of a newer one.
//
// Abnormal closures are retried with exponential backoff (BaseDelay doubled
// per attempt) until MaxAttempts consecutive retries have failed, after which
// the session is terminally failed. A normal closure (code 1000) by the server
// ends the session without retry.
package realtime

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/woedy/snelroi-chat/internal/credentials"
	"github.com/woedy/snelroi-chat/internal/redact"
	"github.com/woedy/snelroi-chat/internal/support"
	"go.uber.org/zap"
)

const (
	DefaultBaseDelay         = 1 * time.Second
	DefaultMaxAttempts       = 5
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultTypingQuietPeriod = 2000 * time.Millisecond
	DefaultWriteTimeout      = 10 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second

	maxFrameSize = 1 << 20
)

// ErrNoCredentials is returned by Open when the token source has nothing.
var ErrNoCredentials = errors.New("realtime: no bearer token available")

// Options configures a Manager. Zero values take the defaults above.
type Options struct {
	// APIBaseURL is the REST base URL; the socket host and scheme derive
	// from it. Empty means DefaultHost over plain ws.
	APIBaseURL string
	Tokens     credentials.Source
	Channel    Channel
	// Role decides whose typing signals are forwarded. Defaults to customer.
	Role Role

	BaseDelay         time.Duration
	MaxAttempts       int
	HeartbeatInterval time.Duration
	TypingQuietPeriod time.Duration
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration

	Dialer *websocket.Dialer
	Logger *zap.Logger
}

func (o *Options) setDefaults() {
	if o.Role == "" {
		o.Role = RoleCustomer
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.TypingQuietPeriod <= 0 {
		o.TypingQuietPeriod = DefaultTypingQuietPeriod
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: o.HandshakeTimeout,
		}
	}
}

// Manager maintains a single realtime session.
type Manager struct {
	opts      Options
	log       *zap.Logger
	observers *registry
	events    *dispatcher

	gen atomic.Uint64

	mu             sync.Mutex
	state          State
	conversationID string
	endpoint       string
	conn           *websocket.Conn
	cancelDial     context.CancelFunc
	stopHeartbeat  context.CancelFunc
	reconnectTimer *time.Timer
	typingTimer    *time.Timer
	typingSeq      uint64
	attempts       int
	delay          time.Duration
	lastPong       time.Time

	writeMu sync.Mutex // serialises data frame writes
}

// New returns an idle Manager bound to the support chat channel unless
// opts.Channel says otherwise.
func New(opts Options) *Manager {
	opts.setDefaults()
	m := &Manager{
		opts:      opts,
		log:       opts.Logger.Named("realtime"),
		observers: &registry{},
		delay:     opts.BaseDelay,
	}
	m.events = &dispatcher{
		current:   m.gen.Load,
		observers: m.observers,
		log:       m.log,
	}
	return m
}

// NewNotifications returns a Manager bound to the notification stream.
func NewNotifications(opts Options) *Manager {
	opts.Channel = ChannelNotifications
	return New(opts)
}

// Open starts a session for conversationID, superseding any current one.
// The dial happens in the background; progress is reported through OnStatus.
// obs are scoped to this session and dropped when it is superseded or closed.
// For the notification channel conversationID is ignored.
func (m *Manager) Open(ctx context.Context, conversationID string, obs Observers) error {
	if m.opts.Channel == ChannelSupportChat {
		if err := ValidateConversationID(conversationID); err != nil {
			return err
		}
	}
	token, err := m.token(ctx)
	if err != nil {
		return err
	}
	var endpoint string
	if m.opts.Channel == ChannelNotifications {
		conversationID = ""
		endpoint, err = NotificationsEndpoint(m.opts.APIBaseURL, token)
	} else {
		endpoint, err = ChatEndpoint(m.opts.APIBaseURL, conversationID, token)
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardownLocked()
	gen := m.gen.Add(1)
	m.observers.dropSessions()
	if !obs.empty() {
		m.observers.add(gen, obs)
	}
	m.conversationID = conversationID
	m.endpoint = endpoint
	m.attempts = 0
	m.delay = m.opts.BaseDelay
	m.connectLocked(gen)
	return nil
}

// Subscribe registers observers for every session until the returned func is
// called or the Manager is closed.
func (m *Manager) Subscribe(obs Observers) (unsubscribe func()) {
	id := m.observers.add(0, obs)
	var once sync.Once
	return func() { once.Do(func() { m.observers.remove(id) }) }
}

func (m *Manager) SubscribeMessages(fn func(support.ChatMessage)) func() {
	return m.Subscribe(Observers{OnMessage: fn})
}

func (m *Manager) SubscribeTyping(fn func(TypingEvent)) func() {
	return m.Subscribe(Observers{OnTyping: fn})
}

func (m *Manager) SubscribeStatus(fn func(StatusEvent)) func() {
	return m.Subscribe(Observers{OnStatus: fn})
}

func (m *Manager) SubscribePresence(fn func(PresenceEvent)) func() {
	return m.Subscribe(Observers{OnPresence: fn})
}

func (m *Manager) SubscribeErrors(fn func(ErrorEvent)) func() {
	return m.Subscribe(Observers{OnError: fn})
}

// SendTyping writes a typing frame when connected. Otherwise it does nothing.
func (m *Manager) SendTyping(isTyping bool) {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected || conn == nil {
		return
	}
	if err := m.write(conn, typingFrame{Type: FrameTyping, IsTyping: isTyping}); err != nil {
		m.log.Debug("typing frame not sent", zap.Bool("is_typing", isTyping), zap.Error(err))
	}
}

// NotifyTypingActivity signals local typing and (re)arms the quiet timer.
// Once TypingQuietPeriod passes without another call a single stop frame is
// sent. It does nothing unless the session is connected.
func (m *Manager) NotifyTypingActivity() {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	if m.typingTimer != nil {
		m.typingTimer.Stop()
	}
	m.typingSeq++
	gen, seq := m.gen.Load(), m.typingSeq
	m.typingTimer = time.AfterFunc(m.opts.TypingQuietPeriod, func() { m.typingQuiet(gen, seq) })
	m.mu.Unlock()

	m.SendTyping(true)
}

// StopTyping ends a typing burst early, as when the message is sent. The stop
// frame is written only if a burst was in progress.
func (m *Manager) StopTyping() {
	m.mu.Lock()
	active := m.typingTimer != nil
	m.stopTypingLocked()
	m.mu.Unlock()
	if active {
		m.SendTyping(false)
	}
}

func (m *Manager) typingQuiet(gen, seq uint64) {
	m.mu.Lock()
	if gen != m.gen.Load() || seq != m.typingSeq {
		m.mu.Unlock()
		return
	}
	m.typingTimer = nil
	m.mu.Unlock()
	m.SendTyping(false)
}

// Close ends the session with a normal closure and returns the Manager to
// idle. All timers are cancelled and all observers dropped. Close is
// idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	m.teardownLocked()
	m.gen.Add(1)
	m.state = StateIdle
	m.conversationID = ""
	m.endpoint = ""
	m.attempts = 0
	m.delay = m.opts.BaseDelay
	m.mu.Unlock()
	m.observers.clear()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the consecutive reconnect attempts of the current session.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// ConversationID returns the bound conversation, empty when idle.
func (m *Manager) ConversationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversationID
}

// LastPong returns when the server last answered a heartbeat.
func (m *Manager) LastPong() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPong
}

func (m *Manager) token(ctx context.Context) (string, error) {
	if m.opts.Tokens == nil {
		return "", ErrNoCredentials
	}
	tok, err := m.opts.Tokens.Token(ctx)
	if errors.Is(err, credentials.ErrNotFound) {
		return "", ErrNoCredentials
	}
	if err != nil {
		return "", errors.Wrap(err, "resolve credentials")
	}
	if tok == "" {
		return "", ErrNoCredentials
	}
	return tok, nil
}

// teardownLocked stops everything the current session owns. The socket is
// closed in the background so callers never block on the network.
func (m *Manager) teardownLocked() {
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopHeartbeatLocked()
	m.stopTypingLocked()
	if m.conn != nil {
		go closeNormally(m.conn, m.opts.WriteTimeout)
		m.conn = nil
	}
}

func (m *Manager) stopHeartbeatLocked() {
	if m.stopHeartbeat != nil {
		m.stopHeartbeat()
		m.stopHeartbeat = nil
	}
}

func (m *Manager) stopTypingLocked() {
	if m.typingTimer != nil {
		m.typingTimer.Stop()
		m.typingTimer = nil
	}
	m.typingSeq++
}

func (m *Manager) connectLocked(gen uint64) {
	m.state = StateConnecting
	m.postStatusLocked(gen, StatusEvent{State: StateConnecting, Attempt: m.attempts})

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelDial = cancel
	go m.dial(ctx, gen, m.endpoint)
}

func (m *Manager) dial(ctx context.Context, gen uint64, endpoint string) {
	m.log.Debug("dialing", zap.String("endpoint", redact.URL(endpoint)))
	conn, resp, err := m.opts.Dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	m.mu.Lock()
	if gen != m.gen.Load() {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	m.cancelDial = nil
	if err != nil {
		if resp != nil {
			err = errors.Wrapf(err, "handshake status %d", resp.StatusCode)
		}
		m.log.Warn("socket dial failed",
			zap.String("conversation", m.conversationID),
			zap.Int("attempt", m.attempts),
			zap.Error(err))
		m.reconnectLocked(gen, 0, err)
		m.mu.Unlock()
		return
	}

	conn.SetReadLimit(maxFrameSize)
	m.conn = conn
	m.state = StateConnected
	m.attempts = 0
	m.delay = m.opts.BaseDelay
	m.lastPong = time.Now()
	m.startHeartbeatLocked(gen, conn)
	m.postStatusLocked(gen, StatusEvent{State: StateConnected})
	m.log.Info("socket connected", zap.String("conversation", m.conversationID))
	m.mu.Unlock()

	m.readLoop(gen, conn)
}

func (m *Manager) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClosed(gen, conn, err)
			return
		}
		m.handleFrame(gen, data)
	}
}

func (m *Manager) handleClosed(gen uint64, conn *websocket.Conn, err error) {
	conn.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen.Load() || m.conn != conn {
		return
	}
	m.conn = nil
	m.stopHeartbeatLocked()
	m.stopTypingLocked()

	code := closeCode(err)
	if code == websocket.CloseNormalClosure {
		m.state = StateDisconnected
		m.log.Info("socket closed by server", zap.String("conversation", m.conversationID))
		m.postStatusLocked(gen, StatusEvent{State: StateDisconnected, Code: code})
		return
	}
	m.log.Warn("socket closed abnormally",
		zap.String("conversation", m.conversationID),
		zap.Int("code", code),
		zap.Error(err))
	m.reconnectLocked(gen, code, err)
}

// reconnectLocked schedules the next attempt or gives up once MaxAttempts
// retries have been spent.
func (m *Manager) reconnectLocked(gen uint64, code int, cause error) {
	m.stopTypingLocked()
	if m.attempts >= m.opts.MaxAttempts {
		m.state = StateFailed
		m.log.Error("giving up on socket",
			zap.String("conversation", m.conversationID),
			zap.Int("attempts", m.attempts))
		m.postStatusLocked(gen, StatusEvent{State: StateFailed, Attempt: m.attempts, Code: code, Err: cause})
		return
	}

	m.attempts++
	m.delay = backoffDelay(m.opts.BaseDelay, m.attempts)
	m.state = StateReconnecting
	m.postStatusLocked(gen, StatusEvent{
		State:   StateReconnecting,
		Attempt: m.attempts,
		Delay:   m.delay,
		Code:    code,
		Err:     cause,
	})
	m.reconnectTimer = time.AfterFunc(m.delay, func() { m.retry(gen) })
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen.Load() || m.state != StateReconnecting {
		return
	}
	m.reconnectTimer = nil
	m.connectLocked(gen)
}

// backoffDelay returns base * 2^(attempt-1).
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return base
	}
	return base << (attempt - 1)
}

func (m *Manager) startHeartbeatLocked(gen uint64, conn *websocket.Conn) {
	m.stopHeartbeatLocked()
	ctx, cancel := context.WithCancel(context.Background())
	m.stopHeartbeat = cancel
	go m.heartbeat(ctx, gen, conn)
}

// heartbeat sends a ping frame every HeartbeatInterval while conn is the
// live socket of generation gen.
func (m *Manager) heartbeat(ctx context.Context, gen uint64, conn *websocket.Conn) {
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			live := gen == m.gen.Load() && m.conn == conn
			m.mu.Unlock()
			if !live {
				return
			}
			if err := m.write(conn, pingFrame{Type: FramePing}); err != nil {
				m.log.Debug("ping not sent", zap.Error(err))
			}
		}
	}
}

func (m *Manager) handleFrame(gen uint64, data []byte) {
	f, err := decodeFrame(data)
	if err != nil {
		m.log.Warn("discarding malformed frame", zap.Int("bytes", len(data)), zap.Error(err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen.Load() {
		return
	}

	switch f.Type {
	case FrameMessage:
		msg, err := f.chatMessage()
		if err != nil {
			m.log.Warn("discarding malformed chat message", zap.Error(err))
			return
		}
		m.events.post(event{gen: gen, deliver: func(o Observers) {
			if o.OnMessage != nil {
				o.OnMessage(msg)
			}
		}})
	case FrameTyping:
		if f.SenderType != m.opts.Role.Counterpart() {
			return
		}
		ev := TypingEvent{IsTyping: *f.IsTyping, SenderType: f.SenderType}
		m.events.post(event{gen: gen, deliver: func(o Observers) {
			if o.OnTyping != nil {
				o.OnTyping(ev)
			}
		}})
	case FrameUserStatus:
		ev := PresenceEvent{Status: f.Status}
		m.events.post(event{gen: gen, deliver: func(o Observers) {
			if o.OnPresence != nil {
				o.OnPresence(ev)
			}
		}})
	case FrameConnectionEstablished:
		m.log.Info("server acknowledged connection",
			zap.String("conversation", m.conversationID),
			zap.String("message", f.errorText()))
	case FrameError:
		ev := ErrorEvent{Message: f.errorText()}
		m.log.Warn("server error frame", zap.String("message", ev.Message))
		m.events.post(event{gen: gen, deliver: func(o Observers) {
			if o.OnError != nil {
				o.OnError(ev)
			}
		}})
	case FramePong:
		m.lastPong = time.Now()
	case FrameNotification:
		n, err := f.notification()
		if err != nil {
			m.log.Warn("discarding malformed notification", zap.Error(err))
			return
		}
		m.events.post(event{gen: gen, deliver: func(o Observers) {
			if o.OnNotification != nil {
				o.OnNotification(n)
			}
		}})
	default:
		m.log.Debug("ignoring frame", zap.String("type", string(f.Type)))
	}
}

func (m *Manager) postStatusLocked(gen uint64, ev StatusEvent) {
	ev.ConversationID = m.conversationID
	m.events.post(event{gen: gen, deliver: func(o Observers) {
		if o.OnStatus != nil {
			o.OnStatus(ev)
		}
	}})
}

func (m *Manager) write(conn *websocket.Conn, v interface{}) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
	return conn.WriteJSON(v)
}

// pendingTimers counts the timers and loops the current session holds.
func (m *Manager) pendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	if m.reconnectTimer != nil {
		n++
	}
	if m.stopHeartbeat != nil {
		n++
	}
	if m.typingTimer != nil {
		n++
	}
	if m.cancelDial != nil {
		n++
	}
	return n
}

func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}

func closeNormally(conn *websocket.Conn, timeout time.Duration) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	conn.Close()
}
