package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
)

// Collections and well-known documents of the backing store.
const (
	CollectionConfig     = "config"
	CollectionCandidates = "candidates"
	CollectionPresence   = "presence"
	CollectionSystem     = "system"
	CollectionAudit      = "audit"
	CollectionProfiles   = "profiles"

	DocAppConfig = "app"
	DocAppStatus = "appStatus"
)

// Store errors. Backends wrap driver failures into these so callers can classify them
// without knowing the driver.
var (
	ErrDocumentNotFound  = appErrors.Clone(appErrors.ErrNotFound, "document not found")
	ErrResourceExhausted = appErrors.Clone(appErrors.ErrQuotaExceeded, "store resource exhausted")
	ErrPermission        = appErrors.Clone(appErrors.ErrPermissionDenied, "store permission denied")
	ErrFeedClosed        = appErrors.Clone(appErrors.ErrTransient, "change feed closed")
	ErrStoreClosed       = appErrors.Clone(appErrors.ErrTransient, "store closed")
)

type serverTimestamp struct{}

// ServerTimestamp may be used as a field value; the store replaces it with its own
// clock (unix milliseconds) when the document is written.
var ServerTimestamp interface{} = serverTimestamp{}

// Document is one stored document.
type Document struct {
	ID   string
	Data json.RawMessage
}

// Decode unmarshals the document body into dest.
func (d Document) Decode(dest interface{}) error {
	if len(d.Data) == 0 {
		return fmt.Errorf("document %s has no data", d.ID)
	}
	return json.Unmarshal(d.Data, dest)
}

// Query selects either one document (DocID set) or a collection view.
type Query struct {
	Collection string
	DocID      string
	OrderBy    string
	Desc       bool
	Limit      int
}

// IsDocument reports whether q targets a single document.
func (q Query) IsDocument() bool {
	return q.DocID != ""
}

func (q Query) String() string {
	if q.IsDocument() {
		return q.Collection + "/" + q.DocID
	}
	s := q.Collection
	if q.OrderBy != "" {
		dir := "asc"
		if q.Desc {
			dir = "desc"
		}
		s += " order by " + q.OrderBy + " " + dir
	}
	if q.Limit > 0 {
		s += " limit " + strconv.Itoa(q.Limit)
	}
	return s
}

// Snapshot is the full current view of a query. Changed counts the document changes
// folded into this delivery; the first delivery counts the whole view.
type Snapshot struct {
	Docs    []Document
	Exists  bool
	Changed int
}

// FeedEvent is one delivery of a change feed: a snapshot, or a terminal error after
// which the channel is closed.
type FeedEvent struct {
	Snapshot Snapshot
	Err      error
}

// DocumentStore is the contract the engine needs from a backing store.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Set(ctx context.Context, collection, id string, fields map[string]interface{}, merge bool) error
	Add(ctx context.Context, collection string, fields map[string]interface{}) (string, error)
	Delete(ctx context.Context, collection, id string) error
	// Watch streams full views of q until ctx is cancelled or the feed fails.
	Watch(ctx context.Context, q Query) (<-chan FeedEvent, error)
	Close() error
}

// OperationObserver receives per-operation timings.
type OperationObserver interface {
	ObserveStoreOperation(backend, op string, duration time.Duration, err error)
}

// RetryPolicy bounds how a feed retries transient re-query failures.
type RetryPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	MaxElapsed time.Duration
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		b.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		b.MaxInterval = p.Max
	}
	if p.MaxElapsed > 0 {
		b.MaxElapsedTime = p.MaxElapsed
	}
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// Options are shared by every backend.
type Options struct {
	Logger   *zap.Logger
	Observer OperationObserver
	Retry    RetryPolicy
	Clock    func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// observe is meant to be deferred; errp is read when the operation returns.
func (o Options) observe(backend, op string, start time.Time, errp *error) {
	if o.Observer == nil {
		return
	}
	var err error
	if errp != nil {
		err = *errp
	}
	o.Observer.ObserveStoreOperation(backend, op, time.Since(start), err)
}

// resolveFields returns a copy of fields with ServerTimestamp sentinels replaced.
func resolveFields(fields map[string]interface{}, nowMs int64) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case serverTimestamp:
			out[k] = nowMs
		case map[string]interface{}:
			out[k] = resolveFields(val, nowMs)
		default:
			out[k] = v
		}
	}
	return out
}

// encodeDocument applies fields onto existing. Merge is shallow: top-level keys in
// fields replace the stored ones, other keys are kept.
func encodeDocument(existing json.RawMessage, fields map[string]interface{}, merge bool) (json.RawMessage, error) {
	body := fields
	if merge && len(existing) > 0 {
		current := map[string]interface{}{}
		if err := json.Unmarshal(existing, &current); err != nil {
			return nil, fmt.Errorf("decode stored document: %w", err)
		}
		for k, v := range fields {
			current[k] = v
		}
		body = current
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return encoded, nil
}

// selectDocuments orders and limits docs for q. Ordering is numeric on q.OrderBy with
// missing or non-numeric values treated as 0; ties fall back to the document id.
func selectDocuments(docs []Document, q Query) []Document {
	out := make([]Document, len(docs))
	copy(out, docs)
	if q.OrderBy != "" {
		keys := make(map[string]float64, len(out))
		for _, d := range out {
			keys[d.ID] = numericField(d.Data, q.OrderBy)
		}
		sort.SliceStable(out, func(i, j int) bool {
			a, b := keys[out[i].ID], keys[out[j].ID]
			if a == b {
				return out[i].ID < out[j].ID
			}
			if q.Desc {
				return a > b
			}
			return a < b
		})
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func numericField(data json.RawMessage, field string) float64 {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return 0
	}
	raw, ok := fields[field]
	if !ok {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	return n
}

// changeSignal coalesces change notifications for one feed. The consumer wakes once per
// burst and learns how many changes were folded in.
type changeSignal struct {
	ch      chan struct{}
	pending int64

	mu  sync.Mutex
	err error
}

func newChangeSignal() *changeSignal {
	return &changeSignal{ch: make(chan struct{}, 1)}
}

func (s *changeSignal) notify(n int) {
	atomic.AddInt64(&s.pending, int64(n))
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (s *changeSignal) take() int {
	return int(atomic.SwapInt64(&s.pending, 0))
}

// fail terminates the feed with err on its next wake-up.
func (s *changeSignal) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.notify(0)
}

func (s *changeSignal) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

type snapshotLoader func(ctx context.Context, q Query) (Snapshot, error)

// runFeed drives one change feed: deliver the initial view, then re-query after every
// burst of notifications. Transient load failures are retried with backoff; any other
// failure, or exhausting the retries, ends the feed with a terminal event.
func runFeed(ctx context.Context, q Query, load snapshotLoader, sig *changeSignal, out chan<- FeedEvent, retry RetryPolicy, logger *zap.Logger) {
	defer close(out)

	changed := -1
	for {
		snap, err := loadWithRetry(ctx, q, load, retry, logger)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case out <- FeedEvent{Err: err}:
			case <-ctx.Done():
			}
			return
		}
		if changed < 0 {
			snap.Changed = len(snap.Docs)
		} else {
			snap.Changed = changed
		}

		select {
		case out <- FeedEvent{Snapshot: snap}:
		case <-ctx.Done():
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-sig.ch:
			if err := sig.failure(); err != nil {
				select {
				case out <- FeedEvent{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			changed = sig.take()
			if changed <= 0 {
				changed = 1
			}
		}
	}
}

func loadWithRetry(ctx context.Context, q Query, load snapshotLoader, retry RetryPolicy, logger *zap.Logger) (Snapshot, error) {
	var snap Snapshot
	op := func() error {
		s, err := load(ctx, q)
		if err != nil {
			if appErrors.Classify(err) != appErrors.KindTransient || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		snap = s
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug("feed query failed, retrying", zap.String("query", q.String()), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, retry.backoff(ctx), notify); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
