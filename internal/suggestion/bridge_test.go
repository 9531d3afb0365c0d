package suggestion

import (
	"sync"
	"testing"

	"github.com/vincentbai/behaviortrace/internal/models"
)

type recorder struct {
	mu  sync.Mutex
	got []Notification
}

func (r *recorder) handle(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestDeliverPublishesAllowedCommand(t *testing.T) {
	bus := NewBus(nil)
	rec := &recorder{}
	bus.Subscribe(TopicReceived, rec.handle)

	bridge := NewBridge(bus, nil, nil)
	ok := bridge.Deliver(&models.Suggestion{Command: "show-bubble", Suggestion: "X", Confidence: 0.9})

	if !ok || rec.count() != 1 {
		t.Fatalf("expected exactly one notification, got %d (ok=%v)", rec.count(), ok)
	}
	n := rec.got[0]
	if n.SuggestionText != "X" || n.Command != "show-bubble" || n.Confidence != 0.9 {
		t.Errorf("notification = %+v", n)
	}
}

func TestDeliverNoOp(t *testing.T) {
	tests := []struct {
		name string
		s    *models.Suggestion
	}{
		{"nil suggestion", nil},
		{"empty command", &models.Suggestion{Suggestion: "X"}},
		{"unknown command", &models.Suggestion{Command: "self-destruct", Suggestion: "X"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewBus(nil)
			rec := &recorder{}
			bus.Subscribe(TopicReceived, rec.handle)

			if NewBridge(bus, nil, nil).Deliver(tt.s) {
				t.Error("Deliver reported a publish")
			}
			if rec.count() != 0 {
				t.Errorf("expected no notification, got %d", rec.count())
			}
		})
	}
}

func TestClearUsesSeparateTopic(t *testing.T) {
	bus := NewBus(nil)
	received, cleared := &recorder{}, &recorder{}
	bus.Subscribe(TopicReceived, received.handle)
	bus.Subscribe(TopicClear, cleared.handle)

	NewBridge(bus, nil, nil).Clear()

	if received.count() != 0 || cleared.count() != 1 {
		t.Errorf("received=%d cleared=%d", received.count(), cleared.count())
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(nil)
	rec := &recorder{}
	unsubscribe := bus.Subscribe(TopicReceived, rec.handle)
	unsubscribe()

	bus.Publish(TopicReceived, Notification{Command: "show-bubble"})
	if rec.count() != 0 {
		t.Error("handler called after unsubscribe")
	}
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	bus := NewBus(nil)
	rec := &recorder{}
	bus.Subscribe(TopicReceived, func(Notification) { panic("ui bug") })
	bus.Subscribe(TopicReceived, rec.handle)

	bus.Publish(TopicReceived, Notification{Command: "show-bubble"})
	if rec.count() != 1 {
		t.Errorf("healthy handler calls = %d, want 1", rec.count())
	}
}

func TestCustomCommandList(t *testing.T) {
	bus := NewBus(nil)
	bridge := NewBridge(bus, []string{"speak-and-show"}, nil)
	if bridge.Deliver(&models.Suggestion{Command: "show-bubble"}) {
		t.Error("show-bubble should be rejected by a custom list")
	}
	if !bridge.Deliver(&models.Suggestion{Command: "speak-and-show"}) {
		t.Error("speak-and-show should be accepted")
	}
}
