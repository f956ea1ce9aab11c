package chattest

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

// peer is one accepted socket. All data writes go through send and the
// write pump.
type peer struct {
	conn *websocket.Conn
	user User
	room string
	send chan []byte
	once sync.Once
}

func newPeer(conn *websocket.Conn, user User, room string) *peer {
	p := &peer{
		conn: conn,
		user: user,
		room: room,
		send: make(chan []byte, 64),
	}
	go p.writePump()
	return p
}

func (p *peer) writePump() {
	defer p.conn.Close()
	for msg := range p.send {
		p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (p *peer) close() {
	p.once.Do(func() { close(p.send) })
}

// hub groups peers into rooms: one per conversation and one per user for
// notifications.
type hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*peer]bool
	log   *zap.Logger
}

func newHub(log *zap.Logger) *hub {
	return &hub{rooms: make(map[string]map[*peer]bool), log: log}
}

func (h *hub) join(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[p.room] == nil {
		h.rooms[p.room] = make(map[*peer]bool)
	}
	h.rooms[p.room][p] = true
}

// leave removes p and reports whether it was still a member.
func (h *hub) leave(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[p.room]
	if !members[p] {
		return false
	}
	delete(members, p)
	if len(members) == 0 {
		delete(h.rooms, p.room)
	}
	p.close()
	return true
}

func (h *hub) peers(room string) []*peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*peer, 0, len(h.rooms[room]))
	for p := range h.rooms[room] {
		out = append(out, p)
	}
	return out
}

func (h *hub) count(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// broadcast sends v to every peer in room except skip. Slow peers are
// dropped.
func (h *hub) broadcast(room string, v interface{}, skip *peer) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("broadcast marshal failed", zap.Error(err))
		return
	}
	h.broadcastRaw(room, data, skip)
}

func (h *hub) broadcastRaw(room string, data []byte, skip *peer) {
	for _, p := range h.peers(room) {
		if p == skip {
			continue
		}
		h.deliver(p, data)
	}
}

func (h *hub) sendTo(p *peer, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error("marshal failed", zap.Error(err))
		return
	}
	h.deliver(p, data)
}

func (h *hub) deliver(p *peer, data []byte) {
	h.mu.RLock()
	member := h.rooms[p.room][p]
	if member {
		select {
		case p.send <- data:
			h.mu.RUnlock()
			return
		default:
		}
	}
	h.mu.RUnlock()
	if member {
		h.log.Warn("peer too slow, disconnecting", zap.String("room", p.room))
		h.leave(p)
	}
}
