package session

import (
	"sync"
	"time"

	"github.com/zhouzirui/manomitra-client/internal/model/conversation"
	sessionmodel "github.com/zhouzirui/manomitra-client/internal/model/session"
)

// EventType identifies what changed in the session.
type EventType string

const (
	EventConnection EventType = "connection"
	EventCapture    EventType = "capture"
	EventEmotion    EventType = "emotion"
	EventTurn       EventType = "turn"
	EventNotice     EventType = "notice"
	EventCleared    EventType = "cleared"
)

// Event is published to subscribers after each observable change.
type Event struct {
	Type    EventType            `json:"type"`
	At      time.Time            `json:"at"`
	State   *sessionmodel.State  `json:"state,omitempty"`
	Turn    *conversation.Turn   `json:"turn,omitempty"`
	Emotion conversation.Emotion `json:"emotion,omitempty"`
	Notice  *sessionmodel.Notice `json:"notice,omitempty"`
}

// Handler receives events synchronously and must not block.
type Handler func(Event)

// hub is a simple pub/sub fan-out.
type hub struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

func newHub() *hub {
	return &hub{handlers: make(map[int]Handler)}
}

func (h *hub) subscribe(handler Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	h.handlers[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.handlers, id)
		})
	}
}

func (h *hub) publish(event Event) {
	h.mu.RLock()
	handlers := make([]Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		handlers = append(handlers, handler)
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}
