package repository

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory store operations that can be made to fail in tests.
const (
	OpGet    = "get"
	OpSet    = "set"
	OpAdd    = "add"
	OpDelete = "delete"
	OpWatch  = "watch"
	OpQuery  = "query"
)

type memoryWatcher struct {
	query Query
	sig   *changeSignal
}

// MemoryStore is an in-process DocumentStore. It backs development runs and tests and
// behaves like the networked stores: full-view feeds, coalesced notifications, shallow
// merges and server timestamps.
type MemoryStore struct {
	opts Options

	mu       sync.RWMutex
	data     map[string]map[string]json.RawMessage
	watchers map[*memoryWatcher]struct{}
	faults   map[string]error
	closed   bool
}

// NewMemoryStore builds an empty store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:     opts.withDefaults(),
		data:     make(map[string]map[string]json.RawMessage),
		watchers: make(map[*memoryWatcher]struct{}),
		faults:   make(map[string]error),
	}
}

// InjectFault makes every later op (OpGet, OpSet, ...) fail with err until cleared.
func (s *MemoryStore) InjectFault(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// ClearFaults removes every injected fault.
func (s *MemoryStore) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[string]error)
}

// BreakFeeds terminates every active feed on collection with err.
func (s *MemoryStore) BreakFeeds(collection string, err error) {
	for _, w := range s.watchersOf(collection, "") {
		w.sig.fail(err)
	}
}

// Get implements DocumentStore.
func (s *MemoryStore) Get(ctx context.Context, collection, id string) (doc *Document, err error) {
	defer s.opts.observe("memory", OpGet, time.Now(), &err)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkLocked(OpGet); err != nil {
		return nil, err
	}
	raw, ok := s.data[collection][id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return &Document{ID: id, Data: append(json.RawMessage(nil), raw...)}, nil
}

// Set implements DocumentStore.
func (s *MemoryStore) Set(ctx context.Context, collection, id string, fields map[string]interface{}, merge bool) (err error) {
	defer s.opts.observe("memory", OpSet, time.Now(), &err)
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if err := s.checkLocked(OpSet); err != nil {
		s.mu.Unlock()
		return err
	}
	resolved := resolveFields(fields, s.opts.Clock().UnixMilli())
	docs, ok := s.data[collection]
	if !ok {
		docs = make(map[string]json.RawMessage)
		s.data[collection] = docs
	}
	encoded, err := encodeDocument(docs[id], resolved, merge)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	docs[id] = encoded
	s.mu.Unlock()

	s.notify(collection, id)
	return nil
}

// Add implements DocumentStore.
func (s *MemoryStore) Add(ctx context.Context, collection string, fields map[string]interface{}) (string, error) {
	s.mu.RLock()
	err := s.checkLocked(OpAdd)
	s.mu.RUnlock()
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := s.Set(ctx, collection, id, fields, false); err != nil {
		return "", err
	}
	return id, nil
}

// Delete implements DocumentStore. Deleting a missing document is not an error.
func (s *MemoryStore) Delete(ctx context.Context, collection, id string) (err error) {
	defer s.opts.observe("memory", OpDelete, time.Now(), &err)
	s.mu.Lock()
	if err := s.checkLocked(OpDelete); err != nil {
		s.mu.Unlock()
		return err
	}
	_, existed := s.data[collection][id]
	delete(s.data[collection], id)
	s.mu.Unlock()

	if existed {
		s.notify(collection, id)
	}
	return nil
}

// Watch implements DocumentStore.
func (s *MemoryStore) Watch(ctx context.Context, q Query) (<-chan FeedEvent, error) {
	s.mu.Lock()
	if err := s.checkLocked(OpWatch); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	w := &memoryWatcher{query: q, sig: newChangeSignal()}
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	out := make(chan FeedEvent, 1)
	go func() {
		defer s.unwatch(w)
		runFeed(ctx, q, s.load, w.sig, out, s.opts.Retry, s.opts.Logger)
	}()
	return out, nil
}

// Close implements DocumentStore. Active feeds end with ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	watchers := make([]*memoryWatcher, 0, len(s.watchers))
	for w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.mu.Unlock()
	for _, w := range watchers {
		w.sig.fail(ErrStoreClosed)
	}
	return nil
}

// Len returns the number of documents in collection.
func (s *MemoryStore) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[collection])
}

func (s *MemoryStore) load(ctx context.Context, q Query) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkLocked(OpQuery); err != nil {
		return Snapshot{}, err
	}
	docs := s.data[q.Collection]
	if q.IsDocument() {
		raw, ok := docs[q.DocID]
		if !ok {
			return Snapshot{}, nil
		}
		return Snapshot{Exists: true, Docs: []Document{{ID: q.DocID, Data: append(json.RawMessage(nil), raw...)}}}, nil
	}
	all := make([]Document, 0, len(docs))
	for id, raw := range docs {
		all = append(all, Document{ID: id, Data: append(json.RawMessage(nil), raw...)})
	}
	return Snapshot{Exists: true, Docs: selectDocuments(all, q)}, nil
}

// checkLocked must be called with s.mu held.
func (s *MemoryStore) checkLocked(op string) error {
	if s.closed {
		return ErrStoreClosed
	}
	if err := s.faults[op]; err != nil {
		return err
	}
	return nil
}

func (s *MemoryStore) notify(collection, id string) {
	for _, w := range s.watchersOf(collection, id) {
		w.sig.notify(1)
	}
}

func (s *MemoryStore) watchersOf(collection, id string) []*memoryWatcher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*memoryWatcher, 0, len(s.watchers))
	for w := range s.watchers {
		if w.query.Collection != collection {
			continue
		}
		if id != "" && w.query.IsDocument() && w.query.DocID != id {
			continue
		}
		out = append(out, w)
	}
	return out
}

func (s *MemoryStore) unwatch(w *memoryWatcher) {
	s.mu.Lock()
	delete(s.watchers, w)
	s.mu.Unlock()
}
