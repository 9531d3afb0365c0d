// Package suggestion turns collector suggestion directives into page-local
// notifications for UI layers.
package suggestion

import (
	"log/slog"

	"github.com/vincentbai/behaviortrace/internal/models"
)

// DefaultCommands are the directives that produce a notification. bubble and
// yes are the collector's older spellings.
var DefaultCommands = []string{"show-bubble", "speak-and-show", "bubble", "yes"}

type Bridge struct {
	bus      *Bus
	commands map[string]bool
	logger   *slog.Logger
}

func NewBridge(bus *Bus, commands []string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if commands == nil {
		commands = DefaultCommands
	}
	allowed := make(map[string]bool, len(commands))
	for _, c := range commands {
		allowed[c] = true
	}
	return &Bridge{bus: bus, commands: allowed, logger: logger}
}

// Deliver publishes s when its command is allowed. A nil suggestion or an
// unknown command is a no-op. It reports whether a notification was sent.
func (b *Bridge) Deliver(s *models.Suggestion) bool {
	if s == nil || !b.commands[s.Command] {
		if s != nil {
			b.logger.Debug("suggestion ignored", "command", s.Command)
		}
		return false
	}
	b.bus.Publish(TopicReceived, Notification{
		SuggestionText: s.Suggestion,
		Command:        s.Command,
		Confidence:     s.Confidence,
	})
	b.logger.Debug("suggestion published", "command", s.Command, "confidence", s.Confidence)
	return true
}

// Clear asks UI layers to drop state derived from earlier suggestions.
func (b *Bridge) Clear() {
	b.bus.Publish(TopicClear, Notification{})
}
