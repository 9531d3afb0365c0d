package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/vincentbai/behaviortrace/internal/models"
	"github.com/vincentbai/behaviortrace/internal/suggestion"
	"github.com/vincentbai/behaviortrace/internal/tracker"
)

const maxLineBytes = 256 * 1024

// interaction is one input line. Page and UserID, when set, update the
// relay's location and the tracked user before the event is recorded.
type interaction struct {
	Type     models.EventType `json:"type"`
	Data     map[string]any   `json:"data"`
	Realtime bool             `json:"realtime"`
	Page     string           `json:"page"`
	Referrer string           `json:"referrer"`
	UserID   string           `json:"user_id"`
	Hidden   *bool            `json:"hidden"` // visibility change instead of an event
	Clear    bool             `json:"clear_suggestion"`
}

type relay struct {
	out    io.Writer
	logger *slog.Logger

	mu       sync.Mutex
	path     string
	referrer string

	lines, bytes, rejected uint64
}

func newRelay(out io.Writer, logger *slog.Logger) *relay {
	return &relay{out: out, logger: logger, path: "/"}
}

func (r *relay) page() (string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path, r.referrer
}

// attach prints every displayable suggestion, and every clear, as a JSON line.
func (r *relay) attach(t *tracker.Tracker) {
	t.Bus().Subscribe(suggestion.TopicReceived, func(n suggestion.Notification) {
		r.write(n)
	})
	t.Bus().Subscribe(suggestion.TopicClear, func(suggestion.Notification) {
		r.write(struct {
			Clear bool `json:"clear"`
		}{true})
	})
}

func (r *relay) write(v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := json.NewEncoder(r.out).Encode(v); err != nil {
		r.logger.Warn("failed to write notification", "error", err)
	}
}

// run tracks input lines until EOF or ctx ends. Malformed lines are logged and
// skipped.
func (r *relay) run(ctx context.Context, in io.Reader, t *tracker.Tracker) error {
	t.Init(ctx, "")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("failed to read input: %w", err)
					}
				default:
				}
				return nil
			}
			r.handle(t, line)
		}
	}
}

func (r *relay) handle(t *tracker.Tracker, line []byte) {
	r.lines++
	r.bytes += uint64(len(line)) + 1
	if len(line) == 0 {
		return
	}

	in, err := parseInteraction(line)
	if err != nil {
		r.rejected++
		r.logger.Warn("skipping input line", "line", r.lines, "error", err)
		return
	}

	if in.UserID != "" {
		t.SetUserID(in.UserID)
	}
	if in.Page != "" {
		r.mu.Lock()
		r.referrer, r.path = r.path, in.Page
		if in.Referrer != "" {
			r.referrer = in.Referrer
		}
		r.mu.Unlock()
	}

	switch {
	case in.Clear:
		t.ClearSuggestion()
	case in.Hidden != nil:
		t.VisibilityChanged(*in.Hidden)
	case in.Realtime:
		t.TrackEvent(in.Type, in.Data, tracker.WithRealtime())
	default:
		t.TrackEvent(in.Type, in.Data)
	}
}

func parseInteraction(line []byte) (interaction, error) {
	var in interaction
	if err := json.Unmarshal(line, &in); err != nil {
		return in, fmt.Errorf("invalid JSON: %w", err)
	}
	if in.Hidden != nil || in.Clear {
		return in, nil
	}
	if in.Type == "" {
		return in, errors.New("missing type")
	}
	if !in.Type.Valid() {
		return in, fmt.Errorf("unknown event type %q", in.Type)
	}
	return in, nil
}

func (r *relay) logSummary(t *tracker.Tracker) {
	stats := t.Stats()
	r.logger.Info("relay finished",
		"lines", humanize.Comma(int64(r.lines)),
		"input", humanize.Bytes(r.bytes),
		"rejected", r.rejected,
		"retry_pending", stats.RetryPending,
		"session_id", stats.SessionID,
	)
}
