package tracker

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vincentbai/behaviortrace/internal/clock"
	"github.com/vincentbai/behaviortrace/internal/models"
	"github.com/vincentbai/behaviortrace/internal/storage"
)

// RetryBatch is a failed delivery waiting for another attempt.
type RetryBatch struct {
	ID            string
	Events        []models.Envelope
	Attempts      int
	NextAttemptAt time.Time
}

// SendFunc delivers a batch, returning an error only when the batch should be
// attempted again.
type SendFunc func(ctx context.Context, events []models.Envelope) error

// RetryManager schedules bounded re-delivery of failed batches and keeps a
// durable copy of each until it is delivered or given up on.
type RetryManager struct {
	mu          sync.Mutex
	batches     []*RetryBatch
	maxAttempts int
	delay       time.Duration
	durable     *durableList
	clock       clock.Clock
	logger      *slog.Logger
	metrics     *Metrics

	entropy *ulid.MonotonicEntropy
}

// NewRetryManager attempts every batch at least once, whatever maxAttempts says.
func NewRetryManager(maxAttempts int, delay time.Duration, durable *durableList, clk clock.Clock, logger *slog.Logger, metrics *Metrics) *RetryManager {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryManager{
		maxAttempts: maxAttempts,
		delay:       delay,
		durable:     durable,
		clock:       clk,
		logger:      logger,
		metrics:     metrics,
		entropy:     ulid.Monotonic(rand.Reader, 0),
	}
}

// Add persists events and schedules the first retry one delay from now.
func (r *RetryManager) Add(ctx context.Context, events []models.Envelope) string {
	now := r.clock.Now()

	r.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(now), r.entropy).String()
	r.batches = append(r.batches, &RetryBatch{
		ID:            id,
		Events:        events,
		NextAttemptAt: now.Add(r.delay),
	})
	r.mu.Unlock()

	r.durable.Append(ctx, models.PersistedBatch{BatchID: id, Events: events})
	r.logger.Debug("batch scheduled for retry", "batch_id", id, "events", len(events))
	return id
}

// Process attempts every due batch once. Batches that reach the attempt cap
// are dropped together with their durable copy.
func (r *RetryManager) Process(ctx context.Context, send SendFunc) {
	now := r.clock.Now()

	r.mu.Lock()
	var due []*RetryBatch
	for _, b := range r.batches {
		if !now.Before(b.NextAttemptAt) && b.Attempts < r.maxAttempts {
			due = append(due, b)
		}
	}
	r.mu.Unlock()

	for _, b := range due {
		if ctx.Err() != nil {
			return
		}
		r.metrics.retried.Inc()
		err := send(ctx, b.Events)

		r.mu.Lock()
		if err == nil {
			r.remove(b.ID)
			r.mu.Unlock()
			r.durable.Remove(ctx, b.ID)
			r.logger.Debug("retry delivered", "batch_id", b.ID, "attempt", b.Attempts+1)
			continue
		}
		b.Attempts++
		if b.Attempts >= r.maxAttempts {
			r.remove(b.ID)
			r.mu.Unlock()
			r.durable.Remove(ctx, b.ID)
			r.metrics.dropped.WithLabelValues(dropExhausted).Add(float64(len(b.Events)))
			r.logger.Warn("retry attempts exhausted, dropping batch", "batch_id", b.ID, "events", len(b.Events), "error", err)
			continue
		}
		b.NextAttemptAt = now.Add(r.delay * time.Duration(b.Attempts+1))
		r.mu.Unlock()
		r.logger.Debug("retry failed", "batch_id", b.ID, "attempts", b.Attempts, "next_attempt_at", b.NextAttemptAt, "error", err)
	}
}

// Pending returns a snapshot of scheduled batches.
func (r *RetryManager) Pending() []RetryBatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RetryBatch, 0, len(r.batches))
	for _, b := range r.batches {
		out = append(out, *b)
	}
	return out
}

// remove must be called with mu held.
func (r *RetryManager) remove(id string) {
	for i, b := range r.batches {
		if b.ID == id {
			r.batches = append(r.batches[:i], r.batches[i+1:]...)
			return
		}
	}
}

// durableList is the bounded persisted copy of failed batches. It holds at
// most maxEvents events; the oldest batches go first.
type durableList struct {
	mu        sync.Mutex
	store     storage.Store
	key       string
	maxEvents int
	logger    *slog.Logger
	metrics   *Metrics
}

func newDurableList(store storage.Store, key string, maxEvents int, logger *slog.Logger, metrics *Metrics) *durableList {
	return &durableList{store: store, key: key, maxEvents: maxEvents, logger: logger, metrics: metrics}
}

func (d *durableList) Append(ctx context.Context, batch models.PersistedBatch) {
	d.mu.Lock()
	defer d.mu.Unlock()

	batches, err := d.load(ctx)
	if err != nil {
		d.logger.Warn("durable retry list unreadable, rewriting", "error", err)
		batches = nil
	}
	batches = append(batches, batch)
	batches, evicted := trimToEvents(batches, d.maxEvents)
	if evicted > 0 {
		d.metrics.dropped.WithLabelValues(dropEvicted).Add(float64(evicted))
		d.logger.Warn("durable retry list full, evicted oldest events", "evicted", evicted)
	}
	d.save(ctx, batches)
}

func (d *durableList) Remove(ctx context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	batches, err := d.load(ctx)
	if err != nil {
		return
	}
	kept := batches[:0]
	for _, b := range batches {
		if b.BatchID != id {
			kept = append(kept, b)
		}
	}
	if len(kept) == len(batches) {
		return
	}
	d.save(ctx, kept)
}

// Drain returns every persisted batch and clears the key.
func (d *durableList) Drain(ctx context.Context) []models.PersistedBatch {
	d.mu.Lock()
	defer d.mu.Unlock()

	batches, err := d.load(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			d.logger.Warn("failed to recover persisted batches", "error", err)
		}
		return nil
	}
	if err := d.store.Delete(ctx, d.key); err != nil {
		d.logger.Warn("failed to clear persisted batches", "error", err)
	}
	return batches
}

func (d *durableList) load(ctx context.Context) ([]models.PersistedBatch, error) {
	raw, err := d.store.Get(ctx, d.key)
	if err != nil {
		return nil, err
	}
	var batches []models.PersistedBatch
	if err := json.Unmarshal(raw, &batches); err != nil {
		return nil, err
	}
	return batches, nil
}

// save is best effort: when storage is unavailable the tracker keeps running
// from memory only.
func (d *durableList) save(ctx context.Context, batches []models.PersistedBatch) {
	if len(batches) == 0 {
		if err := d.store.Delete(ctx, d.key); err != nil {
			d.logger.Warn("failed to clear durable retry list", "error", err)
		}
		return
	}
	raw, err := json.Marshal(batches)
	if err != nil {
		d.logger.Warn("failed to encode durable retry list", "error", err)
		return
	}
	if err := d.store.Put(ctx, d.key, raw); err != nil {
		d.logger.Warn("failed to persist durable retry list", "error", err)
	}
}

// trimToEvents drops whole batches from the front while the total exceeds
// max, then trims the head of a single oversized batch.
func trimToEvents(batches []models.PersistedBatch, max int) ([]models.PersistedBatch, int) {
	if max <= 0 {
		return batches, 0
	}
	total := 0
	for _, b := range batches {
		total += len(b.Events)
	}
	evicted := 0
	for total > max && len(batches) > 1 {
		total -= len(batches[0].Events)
		evicted += len(batches[0].Events)
		batches = batches[1:]
	}
	if total > max {
		over := total - max
		batches[0].Events = batches[0].Events[over:]
		evicted += over
	}
	return batches, evicted
}
