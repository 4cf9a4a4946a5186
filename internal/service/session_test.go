package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/candidate-sync/internal/models"
	"github.com/noah-isme/candidate-sync/internal/repository"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
)

type seederStub struct {
	mu    sync.Mutex
	calls []string
}

func (s *seederStub) SeedDefaults(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sess.Context().UID)
	return nil
}

func (s *seederStub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type sessionFixture struct {
	store  *repository.MemoryStore
	clock  *fakeClock
	runner *inlineSubmitter
	seeder *seederStub
	reg    *SessionRegistry
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		store:  repository.NewMemoryStore(repository.Options{}),
		clock:  newFakeClock(governorEpoch),
		runner: &inlineSubmitter{},
		seeder: &seederStub{},
	}
	f.reg = NewSessionRegistry(SessionConfig{
		Quota:           QuotaGovernorConfig{Location: time.UTC},
		Subscriptions:   SubscriptionConfig{ReconnectInitial: 100 * time.Millisecond, ReconnectMax: time.Second},
		SuperAdminEmail: "root@example.com",
		DefaultMention:  "@supervisors",
		Location:        time.UTC,
	}, SessionDeps{
		Store:   f.store,
		Tasks:   f.runner,
		Clock:   f.clock,
		Metrics: NewMetricsService(),
		Seeder:  f.seeder,
	})
	t.Cleanup(func() {
		f.reg.StopAll()
		_ = f.store.Close()
	})
	return f
}

func TestSessionStartCreatesProfile(t *testing.T) {
	f := newSessionFixture(t)
	sess, err := f.reg.Start(context.Background(), Identity{UID: "root", Email: "Root@Example.com"})
	require.NoError(t, err)

	assert.Equal(t, models.RoleSuperAdmin, sess.Context().Role)
	assert.Equal(t, "Root", sess.Profile().Username)

	doc, err := f.store.Get(context.Background(), repository.CollectionProfiles, "root")
	require.NoError(t, err)
	stored, err := decodeProfile(*doc)
	require.NoError(t, err)
	assert.Equal(t, models.RoleSuperAdmin, stored.Role)
	assert.Equal(t, models.SortNewest, stored.Preferences.SortOrder)

	local := sess.Audit.Local()
	require.NotEmpty(t, local)
	assert.Equal(t, models.AuditActionSignIn, local[0].Action)

	for _, topic := range []Topic{TopicStatus, TopicConfig, TopicCandidates, TopicPresence, TopicProfiles, TopicAudit} {
		assert.True(t, sess.Subs.IsActive(topic), string(topic))
	}
	assert.Eventually(t, func() bool { return f.seeder.Calls() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSessionExistingTrainerProfile(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, repository.CollectionProfiles, "t1", map[string]interface{}{
		"username": "sara",
		"email":    "sara@example.com",
		"role":     "مدرب",
	}, false))

	sess, err := f.reg.Start(ctx, Identity{UID: "t1", Email: "sara@example.com"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleTrainer, sess.Context().Role)
	assert.False(t, sess.Subs.IsActive(TopicPresence))
	assert.False(t, sess.Subs.IsActive(TopicAudit))

	assert.Eventually(t, func() bool {
		_, err := sess.Config()
		return err == appErrors.ErrNotConfigured
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.seeder.Calls())
}

func TestSessionReconcilesCandidateFeed(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Set(ctx, repository.CollectionCandidates, "old", map[string]interface{}{
		"name": "Ali", "nationalId": "123", "updatedAtMs": 10,
	}, false))
	require.NoError(t, f.store.Set(ctx, repository.CollectionCandidates, "nid_123", map[string]interface{}{
		"name": "Ali Hassan", "nationalId": "123-", "updatedAtMs": 20,
	}, false))

	sess, err := f.reg.Start(ctx, Identity{UID: "t1", Email: "sara@example.com", Name: "sara"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(sess.Candidates()) == 1 }, 2*time.Second, 10*time.Millisecond)
	rec, ok := sess.Candidate("nid_123")
	require.True(t, ok)
	assert.Equal(t, "Ali Hassan", rec.Name)

	require.NoError(t, f.store.Set(ctx, repository.CollectionCandidates, "c_2", map[string]interface{}{
		"name": "Omar", "nationalId": "456", "updatedAtMs": 30,
	}, false))
	assert.Eventually(t, func() bool { return len(sess.Candidates()) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestSessionLockDropsFeedsAndReloadRestores(t *testing.T) {
	f := newSessionFixture(t)
	sess, err := f.reg.Start(context.Background(), Identity{UID: "t1", Email: "sara@example.com"})
	require.NoError(t, err)

	events, release := sess.Hub.Subscribe()
	defer release()

	sess.Quota.Lock("", governorEpoch.Add(time.Hour).UnixMilli())
	assert.False(t, sess.Subs.IsActive(TopicCandidates))
	assert.True(t, sess.Subs.IsActive(TopicStatus))
	local := sess.Audit.Local()
	require.NotEmpty(t, local)
	assert.Equal(t, models.AuditActionQuotaLock, local[0].Action)

	deadline := time.After(2 * time.Second)
	for seen := false; !seen; {
		select {
		case ev := <-events:
			seen = ev.Type == EventQuota
		case <-deadline:
			t.Fatal("no quota event")
		}
	}

	sess.Reload()
	assert.False(t, sess.Quota.IsLocked())
	assert.True(t, sess.Subs.IsActive(TopicCandidates))
}

func TestSessionRegistryLifecycle(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	_, err := f.reg.Start(ctx, Identity{})
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	first, err := f.reg.Start(ctx, Identity{UID: "t1", Email: "sara@example.com"})
	require.NoError(t, err)
	second, err := f.reg.Start(ctx, Identity{UID: "t1", Email: "sara@example.com"})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, f.reg.Len())

	got, ok := f.reg.Get("t1")
	require.True(t, ok)
	assert.Same(t, first, got)

	assert.True(t, f.reg.Stop("t1"))
	assert.False(t, f.reg.Stop("t1"))
	assert.True(t, first.Stopped())
	assert.Equal(t, 0, f.reg.Len())

	doc, err := f.store.Get(ctx, repository.CollectionPresence, "t1")
	require.NoError(t, err)
	var presence models.PresenceEntry
	require.NoError(t, doc.Decode(&presence))
	assert.False(t, presence.Online)
}
