package chat

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/weintegritywork/weintegrity-ppm/internal/metrics"
	"github.com/weintegritywork/weintegrity-ppm/internal/models"
)

const DefaultBuffer = 32

// RoomKey addresses one room group.
type RoomKey struct {
	Kind      models.ChatKind
	SubjectID string
}

func (k RoomKey) String() string {
	return fmt.Sprintf("chat_%s_%s", k.Kind, k.SubjectID)
}

// Subscriber is one live connection registered in a room group.
type Subscriber struct {
	id  uint64
	key RoomKey
	ch  chan Event
}

// Events yields broadcast events. It is closed when the subscriber leaves
// or is evicted for falling behind.
func (s *Subscriber) Events() <-chan Event { return s.ch }

func (s *Subscriber) Room() RoomKey { return s.key }

type room struct {
	mu   sync.RWMutex
	subs map[uint64]*Subscriber
}

// Hub is the room-group registry. The hub lock only guards the room map;
// each room has its own lock, so traffic in one room never blocks another.
// Lock order is hub.mu then room.mu.
type Hub struct {
	mu     sync.Mutex
	rooms  map[RoomKey]*room
	nextID atomic.Uint64
	buffer int
	logger *slog.Logger
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{rooms: map[RoomKey]*room{}, buffer: buffer, logger: logger}
}

func (h *Hub) Join(key RoomKey) *Subscriber {
	sub := &Subscriber{id: h.nextID.Add(1), key: key, ch: make(chan Event, h.buffer)}
	h.mu.Lock()
	r, ok := h.rooms[key]
	if !ok {
		r = &room{subs: map[uint64]*Subscriber{}}
		h.rooms[key] = r
	}
	r.mu.Lock()
	r.subs[sub.id] = sub
	r.mu.Unlock()
	h.mu.Unlock()
	metrics.ChatSubscribers.Inc()
	return sub
}

// Leave unregisters sub and closes its channel. Calling it more than once is
// harmless.
func (h *Hub) Leave(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[sub.key]
	if !ok {
		return
	}
	r.mu.Lock()
	if _, ok := r.subs[sub.id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.subs, sub.id)
	close(sub.ch)
	empty := len(r.subs) == 0
	r.mu.Unlock()
	if empty {
		delete(h.rooms, sub.key)
	}
	metrics.ChatSubscribers.Dec()
}

// Broadcast queues ev to every subscriber of the room without blocking.
// Subscribers whose buffer is full are evicted after the send pass. It
// returns the number of subscribers the event was queued to.
func (h *Hub) Broadcast(key RoomKey, ev Event) int {
	h.mu.Lock()
	r, ok := h.rooms[key]
	h.mu.Unlock()
	if !ok {
		return 0
	}

	var lagging []*Subscriber
	delivered := 0
	r.mu.RLock()
	for _, sub := range r.subs {
		select {
		case sub.ch <- ev:
			delivered++
		default:
			lagging = append(lagging, sub)
		}
	}
	r.mu.RUnlock()

	for _, sub := range lagging {
		h.logger.Warn("evicting slow chat subscriber", "room", key.String(), "subscriber", sub.id)
		metrics.ChatEvictions.Inc()
		h.Leave(sub)
	}
	metrics.ChatDeliveries.Add(float64(delivered))
	return delivered
}

// Direct queues ev to sub alone, e.g. an error reply. It reports false when
// sub has left or its buffer is full.
func (h *Hub) Direct(sub *Subscriber, ev Event) bool {
	h.mu.Lock()
	r, ok := h.rooms[sub.key]
	h.mu.Unlock()
	if !ok {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.subs[sub.id]; !ok {
		return false
	}
	select {
	case sub.ch <- ev:
		return true
	default:
		return false
	}
}

func (h *Hub) Subscribers(key RoomKey) int {
	h.mu.Lock()
	r, ok := h.rooms[key]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
