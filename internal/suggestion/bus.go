package suggestion

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Named page-local events.
const (
	TopicReceived = "ai-suggestion-received"
	TopicClear    = "ai-suggestion-clear"
)

// Notification is what UI layers receive for a displayable suggestion. Clear
// events carry the zero value.
type Notification struct {
	SuggestionText string  `json:"suggestionText"`
	Command        string  `json:"command"`
	Confidence     float64 `json:"confidence"`
}

type Handler func(Notification)

// Bus is a fire-and-forget publish/subscribe channel keyed by topic name.
// Handlers run synchronously on the publisher's goroutine; a panicking
// handler is logged and does not affect the others.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]Handler
	logger   *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{handlers: make(map[string]map[int]Handler), logger: logger}
}

// Subscribe registers h for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[int]Handler)
	}
	b.handlers[topic][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[topic], id)
	}
}

func (b *Bus) Publish(topic string, n Notification) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[topic]))
	for _, h := range b.handlers[topic] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()

	for _, h := range hs {
		b.dispatch(topic, h, n)
	}
}

func (b *Bus) dispatch(topic string, h Handler, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("suggestion handler panicked", "topic", topic, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	h(n)
}
