package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/candidate-sync/internal/models"
	"github.com/noah-isme/candidate-sync/internal/repository"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
)

type sinkRecorder struct {
	mu    sync.Mutex
	kinds map[Topic][]appErrors.Kind
	ch    chan Topic
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{kinds: make(map[Topic][]appErrors.Kind), ch: make(chan Topic, 8)}
}

func (s *sinkRecorder) sink(topic Topic, kind appErrors.Kind, err error) {
	s.mu.Lock()
	s.kinds[topic] = append(s.kinds[topic], kind)
	s.mu.Unlock()
	s.ch <- topic
}

type subscriptionFixture struct {
	mgr   *SubscriptionManager
	gov   *QuotaGovernor
	store *repository.MemoryStore
	clock *fakeClock
	sink  *sinkRecorder
}

func newSubscriptionFixture(t *testing.T) *subscriptionFixture {
	t.Helper()
	f := &subscriptionFixture{
		store: repository.NewMemoryStore(repository.Options{}),
		clock: newFakeClock(governorEpoch),
		sink:  newSinkRecorder(),
	}
	f.gov = NewQuotaGovernor(f.store, &inlineSubmitter{}, f.clock, models.Actor{UID: "u1", Role: models.RoleTrainer}, QuotaGovernorConfig{Location: time.UTC}, nil)
	f.mgr = NewSubscriptionManager(f.store, f.gov, f.clock, NewMetricsService(), SubscriptionConfig{
		ReconnectInitial: 100 * time.Millisecond,
		ReconnectMax:     time.Second,
	}, nil)
	f.mgr.SetErrorSink(f.sink.sink)
	f.gov.OnLock(func(models.QuotaState) { f.mgr.OnLocked() })
	t.Cleanup(func() {
		f.mgr.CancelAll()
		f.gov.Close()
		_ = f.store.Close()
	})
	return f
}

func collect() (BatchHandler, chan Batch) {
	ch := make(chan Batch, 16)
	return func(b Batch) { ch <- b }, ch
}

func nextBatch(t *testing.T, ch <-chan Batch) Batch {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
		return Batch{}
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handle to end")
	}
}

func TestSubscriptionDeliversFullViewsAndChargesReads(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, repository.CollectionCandidates, "a", map[string]interface{}{"updatedAtMs": 1}, false))
	require.NoError(t, f.store.Set(ctx, repository.CollectionCandidates, "b", map[string]interface{}{"updatedAtMs": 2}, false))

	handler, batches := collect()
	h, err := f.mgr.Subscribe(ctx, TopicCandidates, repository.Query{Collection: repository.CollectionCandidates, OrderBy: "updatedAtMs", Desc: true}, handler)
	require.NoError(t, err)
	assert.Equal(t, TopicCandidates, h.Topic())

	first := nextBatch(t, batches)
	assert.Equal(t, TopicCandidates, first.Topic)
	assert.Equal(t, 2, first.Total)
	assert.EqualValues(t, 2, first.Cost)
	assert.EqualValues(t, 2, f.gov.State().ReadsUsed)

	require.NoError(t, f.store.Set(ctx, repository.CollectionCandidates, "c", map[string]interface{}{"updatedAtMs": 3}, false))
	second := nextBatch(t, batches)
	assert.Equal(t, 3, second.Total)
	assert.EqualValues(t, 3, second.Cost)
	assert.Equal(t, "c", second.Docs[0].ID)
	assert.EqualValues(t, 5, f.gov.State().ReadsUsed)
}

func TestSubscriptionEmptyViewCostsOne(t *testing.T) {
	f := newSubscriptionFixture(t)
	handler, batches := collect()
	_, err := f.mgr.Subscribe(context.Background(), TopicConfig, repository.Query{Collection: repository.CollectionConfig, DocID: repository.DocAppConfig}, handler)
	require.NoError(t, err)

	b := nextBatch(t, batches)
	assert.False(t, b.Exists)
	assert.EqualValues(t, 1, b.Cost)
}

func TestSubscriptionCancelIsIdempotent(t *testing.T) {
	f := newSubscriptionFixture(t)
	handler, batches := collect()
	h, err := f.mgr.Subscribe(context.Background(), TopicStatus, repository.Query{Collection: repository.CollectionSystem, DocID: repository.DocAppStatus}, handler)
	require.NoError(t, err)
	nextBatch(t, batches)

	h.Cancel()
	h.Cancel()
	waitClosed(t, h.Done())
	assert.Empty(t, f.mgr.Active())

	// Later writes are not delivered.
	require.NoError(t, f.store.Set(context.Background(), repository.CollectionSystem, repository.DocAppStatus, map[string]interface{}{"locked": true}, true))
	select {
	case <-batches:
		t.Fatal("batch delivered after cancel")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeReplacesPriorHandle(t *testing.T) {
	f := newSubscriptionFixture(t)
	q := repository.Query{Collection: repository.CollectionProfiles}
	first, err := f.mgr.Subscribe(context.Background(), TopicProfiles, q, nil)
	require.NoError(t, err)
	second, err := f.mgr.Subscribe(context.Background(), TopicProfiles, q, nil)
	require.NoError(t, err)

	waitClosed(t, first.Done())
	assert.Equal(t, []Topic{TopicProfiles}, f.mgr.Active())
	assert.True(t, f.mgr.IsActive(TopicProfiles))

	// Cancelling the replaced handle leaves the new one alone.
	first.Cancel()
	assert.True(t, f.mgr.IsActive(TopicProfiles))
	second.Cancel()
	assert.False(t, f.mgr.IsActive(TopicProfiles))
}

func TestLockDropsCostlyFeedsOnly(t *testing.T) {
	f := newSubscriptionFixture(t)
	ctx := context.Background()

	candidates, err := f.mgr.Subscribe(ctx, TopicCandidates, repository.Query{Collection: repository.CollectionCandidates}, nil)
	require.NoError(t, err)
	presence, err := f.mgr.Subscribe(ctx, TopicPresence, repository.Query{Collection: repository.CollectionPresence}, nil)
	require.NoError(t, err)
	_, err = f.mgr.Subscribe(ctx, TopicStatus, repository.Query{Collection: repository.CollectionSystem, DocID: repository.DocAppStatus}, nil)
	require.NoError(t, err)

	f.gov.Lock("", 0)
	waitClosed(t, candidates.Done())
	waitClosed(t, presence.Done())
	assert.Equal(t, []Topic{TopicStatus}, f.mgr.Active())

	_, err = f.mgr.Subscribe(ctx, TopicCandidates, repository.Query{Collection: repository.CollectionCandidates}, nil)
	var lockErr *LockError
	assert.True(t, errors.As(err, &lockErr))
}

func TestQuotaFeedErrorLocksAndNotifiesSink(t *testing.T) {
	f := newSubscriptionFixture(t)
	handler, batches := collect()
	h, err := f.mgr.Subscribe(context.Background(), TopicCandidates, repository.Query{Collection: repository.CollectionCandidates}, handler)
	require.NoError(t, err)
	nextBatch(t, batches)

	f.store.BreakFeeds(repository.CollectionCandidates, repository.ErrResourceExhausted)

	select {
	case topic := <-f.sink.ch:
		assert.Equal(t, TopicCandidates, topic)
	case <-time.After(2 * time.Second):
		t.Fatal("sink not notified")
	}
	waitClosed(t, h.Done())
	assert.True(t, f.gov.IsLocked())
	f.sink.mu.Lock()
	assert.Equal(t, []appErrors.Kind{appErrors.KindQuotaExceeded}, f.sink.kinds[TopicCandidates])
	f.sink.mu.Unlock()

	// Cancelling after the failure is a no-op.
	h.Cancel()
}

func TestTransientFeedErrorReconnects(t *testing.T) {
	f := newSubscriptionFixture(t)
	handler, batches := collect()
	h, err := f.mgr.Subscribe(context.Background(), TopicConfig, repository.Query{Collection: repository.CollectionConfig, DocID: repository.DocAppConfig}, handler)
	require.NoError(t, err)
	nextBatch(t, batches)

	f.store.BreakFeeds(repository.CollectionConfig, repository.ErrFeedClosed)
	select {
	case <-f.sink.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("sink not notified")
	}
	assert.True(t, f.mgr.IsActive(TopicConfig))
	assert.False(t, f.gov.IsLocked())

	require.Eventually(t, func() bool { return f.clock.Pending() > 0 }, time.Second, 5*time.Millisecond)
	f.clock.Advance(200 * time.Millisecond)

	b := nextBatch(t, batches)
	assert.Equal(t, TopicConfig, b.Topic)
	select {
	case <-h.Done():
		t.Fatal("handle ended after transient failure")
	default:
	}
}
