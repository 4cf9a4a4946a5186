package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/noah-isme/candidate-sync/internal/repository"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
)

// Topic names one live feed of a session.
type Topic string

const (
	TopicConfig     Topic = "config"
	TopicCandidates Topic = "candidates"
	TopicPresence   Topic = "presence"
	TopicStatus     Topic = "status"
	TopicAudit      Topic = "audit"
	TopicProfiles   Topic = "profiles"
)

// lockable topics are dropped while the quota lock holds.
func (t Topic) lockable() bool {
	return t == TopicCandidates || t == TopicPresence
}

// Batch is one delivery of a topic: the full current view plus its estimated read cost.
type Batch struct {
	Topic      Topic
	Docs       []repository.Document
	Exists     bool
	Changed    int
	Total      int
	Cost       int64
	ReceivedAt time.Time
}

// BatchHandler consumes batches of one topic, in store order, on the feed goroutine.
type BatchHandler func(Batch)

// ErrorSink is told about every fatal feed error.
type ErrorSink func(topic Topic, kind appErrors.Kind, err error)

type feedWatcher interface {
	Watch(ctx context.Context, q repository.Query) (<-chan repository.FeedEvent, error)
}

type readGovernor interface {
	BumpReads(n int64)
	Lock(reason string, untilMs int64)
	Guard() error
}

type subscriptionMetrics interface {
	RecordSubscriptionBatch(topic string)
	RecordSubscriptionError(topic string, kind appErrors.Kind)
}

// SubscriptionConfig tunes reconnection after transient feed failures.
type SubscriptionConfig struct {
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	ReconnectMaxTotal time.Duration
}

// Handle is a live subscription. It survives transient reconnects and ends on Cancel or
// on a permanent failure.
type Handle struct {
	topic   Topic
	query   repository.Query
	handler BatchHandler
	parent  context.Context

	mu         sync.Mutex
	cancelFeed context.CancelFunc
	retry      backoff.BackOff
	timer      Timer
	cancelled  bool

	once sync.Once
	done chan struct{}
	m    *SubscriptionManager
}

// Topic returns the subscribed topic.
func (h *Handle) Topic() Topic { return h.topic }

// Done is closed once the handle has ended.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel stops the subscription. Calling it again, or after the feed already failed,
// does nothing.
func (h *Handle) Cancel() {
	h.once.Do(func() {
		h.mu.Lock()
		h.cancelled = true
		if h.cancelFeed != nil {
			h.cancelFeed()
		}
		if h.timer != nil {
			h.timer.Stop()
			h.timer = nil
		}
		h.mu.Unlock()
		if h.m != nil {
			h.m.release(h)
		}
		close(h.done)
	})
}

func (h *Handle) isCancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// SubscriptionManager owns the live feeds of one session: at most one handle per topic.
type SubscriptionManager struct {
	store   feedWatcher
	quota   readGovernor
	clock   Clock
	metrics subscriptionMetrics
	cfg     SubscriptionConfig
	logger  *zap.Logger

	subscribeMu sync.Mutex
	mu          sync.Mutex
	handles     map[Topic]*Handle
	sink        ErrorSink
}

// NewSubscriptionManager builds a manager reading from store and charging reads to quota.
func NewSubscriptionManager(store feedWatcher, quota readGovernor, clock Clock, metrics subscriptionMetrics, cfg SubscriptionConfig, logger *zap.Logger) *SubscriptionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock()
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	return &SubscriptionManager{
		store:   store,
		quota:   quota,
		clock:   clock,
		metrics: metrics,
		cfg:     cfg,
		logger:  logger,
		handles: make(map[Topic]*Handle),
	}
}

// SetErrorSink registers the receiver of fatal feed errors.
func (m *SubscriptionManager) SetErrorSink(sink ErrorSink) {
	m.mu.Lock()
	m.sink = sink
	m.mu.Unlock()
}

// Subscribe opens a feed for topic, cancelling any prior handle of that topic first.
// ctx bounds the lifetime of the subscription. Candidates and presence are refused with
// a *LockError while the quota lock holds.
func (m *SubscriptionManager) Subscribe(ctx context.Context, topic Topic, q repository.Query, handler BatchHandler) (*Handle, error) {
	if topic.lockable() && m.quota != nil {
		if err := m.quota.Guard(); err != nil {
			return nil, err
		}
	}

	h, err := m.subscribe(ctx, topic, q, handler)
	if err != nil {
		m.report(topic, err)
		return nil, err
	}
	return h, nil
}

func (m *SubscriptionManager) subscribe(ctx context.Context, topic Topic, q repository.Query, handler BatchHandler) (*Handle, error) {
	m.subscribeMu.Lock()
	defer m.subscribeMu.Unlock()

	m.mu.Lock()
	prev := m.handles[topic]
	m.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}

	h := &Handle{
		topic:   topic,
		query:   q,
		handler: handler,
		parent:  ctx,
		retry:   m.newBackOff(),
		done:    make(chan struct{}),
		m:       m,
	}
	m.mu.Lock()
	m.handles[topic] = h
	m.mu.Unlock()

	if err := m.open(h); err != nil {
		h.Cancel()
		return nil, err
	}
	return h, nil
}

// Cancel ends the handle of topic, if any.
func (m *SubscriptionManager) Cancel(topic Topic) {
	m.mu.Lock()
	h := m.handles[topic]
	m.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

// OnLocked drops the costly feeds. Status stays so an unlock can still be observed.
func (m *SubscriptionManager) OnLocked() {
	m.Cancel(TopicCandidates)
	m.Cancel(TopicPresence)
}

// CancelAll ends every handle.
func (m *SubscriptionManager) CancelAll() {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()
	for _, h := range handles {
		h.Cancel()
	}
}

// Active lists the topics with a live handle.
func (m *SubscriptionManager) Active() []Topic {
	m.mu.Lock()
	defer m.mu.Unlock()
	topics := make([]Topic, 0, len(m.handles))
	for topic := range m.handles {
		topics = append(topics, topic)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return topics
}

// IsActive reports whether topic has a live handle.
func (m *SubscriptionManager) IsActive(topic Topic) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[topic]
	return ok
}

func (m *SubscriptionManager) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.ReconnectInitial
	b.MaxInterval = m.cfg.ReconnectMax
	b.MaxElapsedTime = m.cfg.ReconnectMaxTotal
	b.Reset()
	return b
}

func (m *SubscriptionManager) open(h *Handle) error {
	feedCtx, cancel := context.WithCancel(h.parent)
	feed, err := m.store.Watch(feedCtx, h.query)
	if err != nil {
		cancel()
		return err
	}

	h.mu.Lock()
	if h.cancelled {
		h.mu.Unlock()
		cancel()
		return nil
	}
	h.cancelFeed = cancel
	h.mu.Unlock()

	go m.pump(feedCtx, h, feed)
	return nil
}

func (m *SubscriptionManager) pump(ctx context.Context, h *Handle, feed <-chan repository.FeedEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-feed:
			if ctx.Err() != nil {
				return
			}
			if !ok {
				m.fail(h, repository.ErrFeedClosed)
				return
			}
			if ev.Err != nil {
				m.fail(h, ev.Err)
				return
			}
			m.deliver(ctx, h, ev.Snapshot)
		}
	}
}

func (m *SubscriptionManager) deliver(ctx context.Context, h *Handle, snap repository.Snapshot) {
	batch := Batch{
		Topic:      h.topic,
		Docs:       snap.Docs,
		Exists:     snap.Exists,
		Changed:    snap.Changed,
		Total:      len(snap.Docs),
		ReceivedAt: m.clock.Now(),
	}
	batch.Cost = int64(batch.Changed)
	if int64(batch.Total) > batch.Cost {
		batch.Cost = int64(batch.Total)
	}
	if batch.Cost < 1 {
		batch.Cost = 1
	}

	h.mu.Lock()
	h.retry.Reset()
	h.mu.Unlock()

	if m.quota != nil {
		m.quota.BumpReads(batch.Cost)
	}
	if m.metrics != nil {
		m.metrics.RecordSubscriptionBatch(string(h.topic))
	}
	// The read charge may have locked and cancelled this feed.
	if ctx.Err() != nil {
		return
	}
	if h.handler != nil {
		h.handler(batch)
	}
}

// fail handles a terminal feed error. Transient failures reconnect with backoff; anything
// else ends the handle.
func (m *SubscriptionManager) fail(h *Handle, err error) {
	if h.isCancelled() {
		return
	}
	kind := m.report(h.topic, err)
	if kind == appErrors.KindTransient && m.scheduleReconnect(h) {
		return
	}
	h.Cancel()
}

func (m *SubscriptionManager) report(topic Topic, err error) appErrors.Kind {
	kind := appErrors.Classify(err)
	m.logger.Warn("subscription failed",
		zap.String("topic", string(topic)),
		zap.String("kind", kind.String()),
		zap.Error(err))
	if m.metrics != nil {
		m.metrics.RecordSubscriptionError(string(topic), kind)
	}
	if kind == appErrors.KindQuotaExceeded && m.quota != nil {
		m.quota.Lock("", 0)
	}

	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink != nil {
		sink(topic, kind, err)
	} else {
		m.logger.Error("subscription error without sink", zap.String("topic", string(topic)), zap.Error(err))
	}
	return kind
}

func (m *SubscriptionManager) scheduleReconnect(h *Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled || h.parent.Err() != nil {
		return false
	}
	wait := h.retry.NextBackOff()
	if wait == backoff.Stop {
		return false
	}
	if h.cancelFeed != nil {
		h.cancelFeed()
		h.cancelFeed = nil
	}
	h.timer = m.clock.AfterFunc(wait, func() { m.reconnect(h) })
	m.logger.Info("subscription reconnect scheduled", zap.String("topic", string(h.topic)), zap.Duration("wait", wait))
	return true
}

func (m *SubscriptionManager) reconnect(h *Handle) {
	h.mu.Lock()
	h.timer = nil
	h.mu.Unlock()
	if h.isCancelled() {
		return
	}
	if h.topic.lockable() && m.quota != nil && m.quota.Guard() != nil {
		h.Cancel()
		return
	}
	if err := m.open(h); err != nil {
		m.fail(h, err)
	}
}

func (m *SubscriptionManager) release(h *Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handles[h.topic] == h {
		delete(m.handles, h.topic)
	}
}
