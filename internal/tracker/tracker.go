// Package tracker is the client-side behaviour telemetry pipeline: it
// normalizes and sanitizes tracked events, routes them to realtime or batched
// delivery, retries failed batches with a durable fallback, and emits idle
// heartbeats.
//
// One Tracker serves one page lifetime. Construct it at bootstrap with New,
// start it with Init and end it with Close, which performs the best-effort
// unload flush.
package tracker

import (
	"context"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vincentbai/behaviortrace/internal/clock"
	"github.com/vincentbai/behaviortrace/internal/config"
	"github.com/vincentbai/behaviortrace/internal/models"
	"github.com/vincentbai/behaviortrace/internal/policy"
	"github.com/vincentbai/behaviortrace/internal/session"
	"github.com/vincentbai/behaviortrace/internal/storage"
	"github.com/vincentbai/behaviortrace/internal/suggestion"
	"github.com/vincentbai/behaviortrace/internal/transport"
)

type Option func(*Tracker)

func WithStore(s storage.Store) Option              { return func(t *Tracker) { t.store = s } }
func WithClock(c clock.Clock) Option                { return func(t *Tracker) { t.clock = c } }
func WithBus(b *suggestion.Bus) Option              { return func(t *Tracker) { t.bus = b } }
func WithPageLocator(p PageLocator) Option          { return func(t *Tracker) { t.page = p } }
func WithEnvironment(e EnvironmentProbe) Option     { return func(t *Tracker) { t.env = e } }
func WithRegisterer(r prometheus.Registerer) Option { return func(t *Tracker) { t.registerer = r } }
func WithLogger(l *slog.Logger) Option              { return func(t *Tracker) { t.logger = l } }
func WithPolicy(p *policy.Policy) Option            { return func(t *Tracker) { t.policy = p } }

// WithSampler replaces the source of the sampling decision; it must return
// values in [0,1).
func WithSampler(f func() float64) Option { return func(t *Tracker) { t.sample = f } }

type trackOptions struct {
	realtime bool
}

type TrackOption func(*trackOptions)

// WithRealtime sends the event immediately regardless of its type.
func WithRealtime() TrackOption { return func(o *trackOptions) { o.realtime = true } }

type outbound struct {
	events []models.Envelope
	done   chan struct{} // closed after the attempt; nil when nobody waits
}

type Tracker struct {
	cfg        config.Tracker
	transport  transport.Transport
	store      storage.Store
	clock      clock.Clock
	bus        *suggestion.Bus
	page       PageLocator
	env        EnvironmentProbe
	registerer prometheus.Registerer
	logger     *slog.Logger
	policy     *policy.Policy
	sample     func() float64

	normalizer *Normalizer
	sessions   *session.Manager
	activity   *session.Activity
	retries    *RetryManager
	durable    *durableList
	bridge     *suggestion.Bridge
	metrics    *Metrics

	lifecycle sync.Mutex // serializes Init and Close

	mu      sync.Mutex
	queue   *Queue
	userID  *string
	started bool
	closed  bool

	outMu     sync.Mutex
	outbox    []outbound
	draining  bool
	outSignal chan struct{}

	runCtx     context.Context
	runCancel  context.CancelFunc
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	senderDone chan struct{}
	inflight   sync.WaitGroup
}

// New wires a tracker. Nothing runs until Init.
func New(cfg config.Tracker, tr transport.Transport, opts ...Option) *Tracker {
	t := &Tracker{cfg: cfg, transport: tr, outSignal: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.store == nil {
		t.store = storage.NewMemory()
	}
	if t.clock == nil {
		t.clock = clock.Real{}
	}
	if t.bus == nil {
		t.bus = suggestion.NewBus(t.logger)
	}
	if t.policy == nil {
		t.policy = policy.Default()
	}
	if t.sample == nil {
		t.sample = rand.Float64
	}

	t.logger = t.logger.With("component", "tracker")
	t.metrics = NewMetrics(t.registerer)
	t.normalizer = NewNormalizer(t.clock, t.page, t.env)
	t.sessions = session.NewManager(t.store, cfg.SessionKey, cfg.SessionTimeout, t.logger)
	t.durable = newDurableList(t.store, cfg.RetryKey, cfg.RetryMaxEvents, t.logger, t.metrics)
	t.retries = NewRetryManager(cfg.RetryMaxAttempts, cfg.RetryDelay, t.durable, t.clock, t.logger, t.metrics)
	t.bridge = suggestion.NewBridge(t.bus, cfg.SuggestionCommands, t.logger)
	t.queue = NewQueue(cfg.QueueCapacity)
	return t
}

// Init starts the session, recovers persisted batches into the live queue
// and starts the flush, retry and heartbeat timers. Calling it again only
// updates the user id.
func (t *Tracker) Init(ctx context.Context, userID string) *Tracker {
	if userID != "" {
		t.SetUserID(userID)
	}
	if !t.cfg.Enabled {
		t.logger.Warn("tracking disabled")
		return t
	}

	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()
	t.mu.Lock()
	skip := t.started || t.closed
	t.mu.Unlock()
	if skip {
		return t
	}

	now := t.clock.Now()
	sessionID := t.sessions.Init(ctx, now)
	t.activity = session.NewActivity(now, t.cfg.HeartbeatInterval, t.cfg.HeartbeatTolerance, t.cfg.SessionTimeout)

	t.runCtx, t.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	loopCtx, loopCancel := context.WithCancel(t.runCtx)
	t.loopCancel = loopCancel
	t.loopDone = make(chan struct{})
	t.senderDone = make(chan struct{})

	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
	t.recover(ctx)

	// tickers exist before Init returns so no early tick is missed
	timers := t.newTimers()
	go t.runSender(t.runCtx)
	go t.runLoop(loopCtx, timers)

	t.logger.Info("tracker initialized", "session_id", sessionID)
	return t
}

// recover moves batches persisted by an earlier run into the live queue.
// Their attempt counts are not restored.
func (t *Tracker) recover(ctx context.Context) {
	batches := t.durable.Drain(ctx)
	if len(batches) == 0 {
		return
	}
	count := 0
	t.mu.Lock()
	for _, b := range batches {
		t.pushLocked(b.Events...)
		count += len(b.Events)
	}
	t.mu.Unlock()
	t.logger.Info("recovered persisted events", "batches", len(batches), "events", count)
}

func (t *Tracker) SetUserID(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if userID == "" {
		t.userID = nil
		return
	}
	t.userID = &userID
	t.logger.Debug("user id set", "user_id", userID)
}

// TrackEvent records an event from a raw field map.
func (t *Tracker) TrackEvent(eventType models.EventType, data map[string]any, opts ...TrackOption) {
	t.Track(models.Custom{Type: eventType, Data: data}, opts...)
}

// Track records one user event. It never blocks on delivery and never
// panics; problems are logged and the event is dropped.
func (t *Tracker) Track(p models.Payload, opts ...TrackOption) {
	defer t.recoverPanic("track")

	if !t.running() || p == nil {
		return
	}
	if !p.EventType().Valid() {
		t.metrics.dropped.WithLabelValues(dropInvalid).Inc()
		t.logger.Debug("unknown event type dropped", "event_type", p.EventType())
		return
	}
	if t.cfg.SamplingRate < 1 && t.sample() >= t.cfg.SamplingRate {
		t.metrics.dropped.WithLabelValues(dropSampled).Inc()
		return
	}

	var o trackOptions
	for _, opt := range opts {
		opt(&o)
	}

	now := t.clock.Now()
	sessionID, _ := t.sessions.Touch(t.runCtx, now)
	t.activity.Observe(now)
	t.record(p, o.realtime, sessionID)
}

// VisibilityChanged records the page losing or regaining visibility.
func (t *Tracker) VisibilityChanged(hidden bool) {
	t.Track(models.Visibility{Hidden: hidden})
}

// record runs normalize, sanitize and route for one payload.
func (t *Tracker) record(p models.Payload, realtime bool, sessionID string) {
	env := t.policy.Sanitize(t.normalizer.Normalize(p, sessionID, t.currentUser()))
	route := RouteFor(env.EventType, realtime)
	t.metrics.tracked.WithLabelValues(route.String()).Inc()

	if route == Realtime {
		t.sendRealtime(env)
	} else {
		t.enqueue(env)
	}
	t.logger.Debug("event tracked", "event_type", env.EventType, "route", route)
}

func (t *Tracker) currentUser() *string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.userID
}

func (t *Tracker) running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started && !t.closed
}

func (t *Tracker) enqueue(env models.Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.pushLocked(env)
}

// pushLocked appends to the queue and detaches a full batch as soon as the
// queue reaches MaxBatchSize. Must be called with mu held.
func (t *Tracker) pushLocked(events ...models.Envelope) {
	if evicted := t.queue.Push(events...); evicted > 0 {
		t.metrics.dropped.WithLabelValues(dropOverflow).Add(float64(evicted))
		t.logger.Warn("queue over capacity, evicted oldest events", "evicted", evicted)
	}
	for t.queue.Len() >= t.cfg.MaxBatchSize {
		t.submitLocked(t.queue.Take(t.cfg.MaxBatchSize), nil)
	}
}

// submitLocked hands a detached batch to the sender. Holding mu keeps the
// outbox in detach order.
func (t *Tracker) submitLocked(events []models.Envelope, done chan struct{}) {
	t.outMu.Lock()
	t.outbox = append(t.outbox, outbound{events: events, done: done})
	t.outMu.Unlock()
	select {
	case t.outSignal <- struct{}{}:
	default:
	}
}

func (t *Tracker) sendRealtime(env models.Envelope) {
	// Add under mu so Close never waits on a counter that can still grow
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.inflight.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.inflight.Done()
		defer t.recoverPanic("realtime send")
		t.deliver(t.runCtx, []models.Envelope{env})
	}()
}

// Flush detaches everything queued and waits until the sender has attempted
// it or ctx ends. Delivery failures are handled internally, not returned.
func (t *Tracker) Flush(ctx context.Context) error {
	if !t.running() {
		return nil
	}
	done := t.detachAll()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// detachAll moves the whole queue into the outbox in MaxBatchSize chunks and
// returns a channel closed after the last chunk is attempted.
func (t *Tracker) detachAll() chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	var done chan struct{}
	for t.queue.Len() > 0 {
		batch := t.queue.Take(t.cfg.MaxBatchSize)
		if t.queue.Len() == 0 {
			done = make(chan struct{})
		}
		t.submitLocked(batch, done)
	}
	return done
}

// Close is the page-unload path: timers stop, the queue is flushed, and
// in-flight sends get until ctx ends to finish. Batches that fail here are
// persisted for the next Init.
func (t *Tracker) Close(ctx context.Context) error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	t.mu.Lock()
	if !t.started || t.closed {
		t.closed = true
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.loopCancel()
	<-t.loopDone

	t.detachAll()
	t.outMu.Lock()
	t.draining = true
	t.outMu.Unlock()
	select {
	case t.outSignal <- struct{}{}:
	default:
	}

	allDone := make(chan struct{})
	go func() {
		<-t.senderDone
		t.inflight.Wait()
		close(allDone)
	}()

	var err error
	select {
	case <-allDone:
	case <-ctx.Done():
		err = ctx.Err()
		t.logger.Warn("unload flush incomplete", "error", err)
	}
	t.runCancel()
	<-allDone
	t.logger.Info("tracker closed")
	return err
}

type timers struct {
	flush, retry, heartbeat clock.Ticker // heartbeat is nil when disabled
}

func (t *Tracker) newTimers() timers {
	tm := timers{
		flush: t.clock.NewTicker(t.cfg.FlushInterval),
		retry: t.clock.NewTicker(t.cfg.RetryDelay),
	}
	if t.cfg.HeartbeatEnabled {
		tm.heartbeat = t.clock.NewTicker(t.cfg.HeartbeatInterval)
	}
	return tm
}

func (t *Tracker) runLoop(ctx context.Context, tm timers) {
	defer close(t.loopDone)
	defer tm.flush.Stop()
	defer tm.retry.Stop()

	var heartbeat <-chan time.Time
	if tm.heartbeat != nil {
		defer tm.heartbeat.Stop()
		heartbeat = tm.heartbeat.C()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tm.flush.C():
			t.flushTick()
		case <-tm.retry.C():
			t.retries.Process(ctx, t.attempt)
		case <-heartbeat:
			t.heartbeat()
		}
	}
}

func (t *Tracker) flushTick() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.queue.Len() > 0 {
		t.submitLocked(t.queue.Take(t.cfg.MaxBatchSize), nil)
	}
}

// heartbeat emits an idle signal without counting it as activity.
func (t *Tracker) heartbeat() {
	defer t.recoverPanic("heartbeat")
	idle, emit := t.activity.Tick(t.clock.Now())
	if !emit {
		return
	}
	t.record(models.Heartbeat{IdleTime: idle.Milliseconds()}, false, t.sessions.ID())
}

// runSender delivers detached batches one at a time, in order.
func (t *Tracker) runSender(ctx context.Context) {
	defer close(t.senderDone)
	for {
		t.outMu.Lock()
		if len(t.outbox) == 0 {
			draining := t.draining
			t.outMu.Unlock()
			if draining {
				return
			}
			select {
			case <-t.outSignal:
				continue
			case <-ctx.Done():
				return
			}
		}
		next := t.outbox[0]
		t.outbox = t.outbox[1:]
		t.outMu.Unlock()

		if ctx.Err() == nil {
			t.deliver(ctx, next.events)
		} else {
			// unload deadline passed: keep the batch for the next Init
			t.retries.Add(context.WithoutCancel(ctx), next.events)
		}
		if next.done != nil {
			close(next.done)
		}
	}
}

// deliver sends a batch and hands retryable failures to the retry manager.
func (t *Tracker) deliver(ctx context.Context, events []models.Envelope) {
	if err := t.attempt(ctx, events); err != nil {
		t.metrics.failed.Inc()
		t.logger.Warn("delivery failed, scheduling retry", "events", len(events), "error", err)
		t.retries.Add(context.WithoutCancel(ctx), events)
	}
}

// attempt performs one transport call. A malformed response after a
// successful call counts as delivered.
func (t *Tracker) attempt(ctx context.Context, events []models.Envelope) error {
	s, err := t.transport.Send(ctx, events)
	if err != nil {
		if transport.IsRetryable(err) {
			return err
		}
		t.logger.Warn("collector response unreadable, batch treated as delivered", "events", len(events), "error", err)
	}
	t.metrics.delivered.Add(float64(len(events)))
	if t.bridge.Deliver(s) {
		t.metrics.suggestions.Inc()
	}
	return nil
}

func (t *Tracker) recoverPanic(where string) {
	if r := recover(); r != nil {
		t.logger.Error("tracker panic recovered", "where", where, "panic", r, "stack", string(debug.Stack()))
	}
}

// Bus returns the notification bus suggestions are published on.
func (t *Tracker) Bus() *suggestion.Bus { return t.bus }

// ClearSuggestion asks UI layers to drop any displayed suggestion.
func (t *Tracker) ClearSuggestion() { t.bridge.Clear() }

type Stats struct {
	SessionID    string
	Queued       int
	Outbound     int
	RetryPending int
}

func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	queued := t.queue.Len()
	t.mu.Unlock()
	t.outMu.Lock()
	outbound := len(t.outbox)
	t.outMu.Unlock()
	return Stats{
		SessionID:    t.sessions.ID(),
		Queued:       queued,
		Outbound:     outbound,
		RetryPending: len(t.retries.Pending()),
	}
}
