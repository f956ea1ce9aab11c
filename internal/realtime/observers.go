package realtime

import (
	"sync"

	"github.com/woedy/snelroi-chat/internal/support"
	"go.uber.org/zap"
)

// Observers is a set of optional callbacks. Message observers must be
// idempotent on ChatMessage.ID: delivery is at-least-once.
type Observers struct {
	OnMessage      func(support.ChatMessage)
	OnTyping       func(TypingEvent)
	OnPresence     func(PresenceEvent)
	OnStatus       func(StatusEvent)
	OnError        func(ErrorEvent)
	OnNotification func(support.Notification)
}

func (o Observers) empty() bool {
	return o.OnMessage == nil && o.OnTyping == nil && o.OnPresence == nil &&
		o.OnStatus == nil && o.OnError == nil && o.OnNotification == nil
}

// registration binds observers either to the manager (gen 0) or to a single
// session generation.
type registration struct {
	id  uint64
	gen uint64
	obs Observers
}

type registry struct {
	mu   sync.Mutex
	next uint64
	regs []registration
}

func (r *registry) add(gen uint64, obs Observers) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.regs = append(r.regs, registration{id: r.next, gen: gen, obs: obs})
	return r.next
}

func (r *registry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, reg := range r.regs {
		if reg.id == id {
			r.regs = append(r.regs[:i:i], r.regs[i+1:]...)
			return
		}
	}
}

// dropSessions removes every session-scoped registration.
func (r *registry) dropSessions() {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.regs[:0:0]
	for _, reg := range r.regs {
		if reg.gen == 0 {
			kept = append(kept, reg)
		}
	}
	r.regs = kept
}

func (r *registry) clear() {
	r.mu.Lock()
	r.regs = nil
	r.mu.Unlock()
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.regs)
}

// snapshot returns the observers that receive events of generation gen, in
// registration order.
func (r *registry) snapshot(gen uint64) []Observers {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Observers, 0, len(r.regs))
	for _, reg := range r.regs {
		if reg.gen == 0 || reg.gen == gen {
			out = append(out, reg.obs)
		}
	}
	return out
}

type event struct {
	gen     uint64
	deliver func(Observers)
}

// dispatcher delivers events in order on at most one goroutine at a time.
// Events whose generation is no longer current are dropped at delivery.
type dispatcher struct {
	current   func() uint64
	observers *registry
	log       *zap.Logger

	mu      sync.Mutex
	queue   []event
	running bool
}

func (d *dispatcher) post(ev event) {
	d.mu.Lock()
	d.queue = append(d.queue, ev)
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()
	go d.drain()
}

func (d *dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.running = false
			d.queue = nil
			d.mu.Unlock()
			return
		}
		ev := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		for _, obs := range d.observers.snapshot(ev.gen) {
			// An observer may close or supersede the session mid-event.
			if ev.gen != d.current() {
				break
			}
			d.invoke(obs, ev)
		}
	}
}

// invoke isolates one observer call so a panic cannot escape into the
// connection state machine.
func (d *dispatcher) invoke(obs Observers, ev event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("observer panicked", zap.Any("panic", r))
		}
	}()
	ev.deliver(obs)
}
