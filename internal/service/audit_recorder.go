package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/candidate-sync/internal/models"
	"github.com/noah-isme/candidate-sync/internal/normalize"
	"github.com/noah-isme/candidate-sync/internal/repository"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
)

const (
	defaultAuditCapacity = 2000
	clientTimeLayout     = "2006-01-02T15:04:05.000Z07:00"
	unknownActor         = "—"
)

type auditWriter interface {
	Add(ctx context.Context, collection string, fields map[string]interface{}) (string, error)
}

type writeGovernor interface {
	BumpWrites(n int64)
	Lock(reason string, untilMs int64)
}

type auditMetrics interface {
	RecordAuditFailure()
}

// AuditRecorder keeps the local audit ring and appends entries remotely on a best-effort
// basis.
type AuditRecorder struct {
	store   auditWriter
	quota   writeGovernor
	tasks   taskSubmitter
	clock   Clock
	metrics auditMetrics
	logger  *zap.Logger

	mu            sync.Mutex
	actor         models.Actor
	ring          []models.AuditEntry
	head          int
	size          int
	remote        []models.AuditEntry
	remoteHealthy bool
}

// NewAuditRecorder builds a recorder holding at most capacity local entries.
func NewAuditRecorder(store auditWriter, quota writeGovernor, runner taskSubmitter, clock Clock, metrics auditMetrics, capacity int, logger *zap.Logger) *AuditRecorder {
	if capacity <= 0 {
		capacity = defaultAuditCapacity
	}
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditRecorder{
		store:   store,
		quota:   quota,
		tasks:   runner,
		clock:   clock,
		metrics: metrics,
		logger:  logger,
		ring:    make([]models.AuditEntry, capacity),
	}
}

// SetActor sets the identity attributed to later entries.
func (a *AuditRecorder) SetActor(actor models.Actor) {
	a.mu.Lock()
	a.actor = actor
	a.mu.Unlock()
}

// Record stores an entry locally, evicting the oldest when full, and schedules the
// remote append. Remote failures never reach the caller.
func (a *AuditRecorder) Record(kind, action string, details map[string]interface{}) models.AuditEntry {
	entry, actor := a.local(kind, action, details)

	if a.store == nil || a.tasks == nil {
		return entry
	}
	fields := map[string]interface{}{
		"kind":          kind,
		"action":        action,
		"details":       entry.Details,
		"actorUid":      actor.UID,
		"actorEmail":    actor.Email,
		"actorUsername": actor.Username,
		"actorRole":     string(actor.Role),
		"ts":            repository.ServerTimestamp,
		"clientTime":    entry.ClientTime,
	}
	submitted := a.tasks.Submit("audit.append", func(ctx context.Context) error {
		if _, err := a.store.Add(ctx, repository.CollectionAudit, fields); err != nil {
			a.remoteFailed(err)
			return nil
		}
		if a.quota != nil {
			a.quota.BumpWrites(1)
		}
		return nil
	})
	if !submitted {
		a.logger.Debug("audit append dropped", zap.String("kind", kind), zap.String("action", action))
	}
	return entry
}

// Note keeps an entry in the local ring only. Used for events raised while writes are
// refused.
func (a *AuditRecorder) Note(kind, action string, details map[string]interface{}) models.AuditEntry {
	entry, _ := a.local(kind, action, details)
	return entry
}

func (a *AuditRecorder) local(kind, action string, details map[string]interface{}) (models.AuditEntry, models.Actor) {
	if details == nil {
		details = map[string]interface{}{}
	}
	now := a.clock.Now()

	a.mu.Lock()
	actor := a.actor
	entry := models.AuditEntry{
		ID:            uuid.NewString(),
		Time:          now,
		Actor:         actorLabel(actor.Username, actor.Email),
		ActorUID:      actor.UID,
		ActorEmail:    actor.Email,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Kind:          kind,
		Action:        action,
		Details:       details,
		ClientTime:    now.UTC().Format(clientTimeLayout),
	}
	a.push(entry)
	a.mu.Unlock()
	return entry, actor
}

func (a *AuditRecorder) remoteFailed(err error) {
	if a.metrics != nil {
		a.metrics.RecordAuditFailure()
	}
	if appErrors.IsQuota(err) && a.quota != nil {
		a.quota.Lock("", 0)
	}
	a.logger.Debug("remote audit append failed", zap.Error(err))
}

// push must be called with a.mu held.
func (a *AuditRecorder) push(entry models.AuditEntry) {
	capacity := len(a.ring)
	idx := (a.head + a.size) % capacity
	if a.size == capacity {
		a.ring[a.head] = entry
		a.head = (a.head + 1) % capacity
		return
	}
	a.ring[idx] = entry
	a.size++
}

// Local returns the local ring, newest first.
func (a *AuditRecorder) Local() []models.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.localLocked()
}

func (a *AuditRecorder) localLocked() []models.AuditEntry {
	out := make([]models.AuditEntry, 0, a.size)
	for i := a.size - 1; i >= 0; i-- {
		out = append(out, a.ring[(a.head+i)%len(a.ring)])
	}
	return out
}

// ApplyFeed replaces the remote view with the latest audit feed delivery.
func (a *AuditRecorder) ApplyFeed(docs []repository.Document) {
	entries := make([]models.AuditEntry, 0, len(docs))
	for _, doc := range docs {
		var raw models.AuditDocument
		if err := doc.Decode(&raw); err != nil {
			a.logger.Debug("skip malformed audit document", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		entries = append(entries, entryFromDocument(doc.ID, raw))
	}
	a.mu.Lock()
	a.remote = entries
	a.remoteHealthy = true
	a.mu.Unlock()
}

// FeedFailed switches privileged readers back to the local ring.
func (a *AuditRecorder) FeedFailed() {
	a.mu.Lock()
	a.remoteHealthy = false
	a.mu.Unlock()
}

// Entries returns the audit view for role: the shared feed for admins while it is
// healthy, the local ring otherwise.
func (a *AuditRecorder) Entries(role models.Role) []models.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if role.IsAdmin() && a.remoteHealthy {
		return append([]models.AuditEntry(nil), a.remote...)
	}
	return a.localLocked()
}

func entryFromDocument(id string, raw models.AuditDocument) models.AuditEntry {
	entry := models.AuditEntry{
		ID:            id,
		Actor:         actorLabel(raw.ActorUsername, raw.ActorEmail),
		ActorUID:      raw.ActorUID,
		ActorEmail:    raw.ActorEmail,
		ActorUsername: raw.ActorUsername,
		ActorRole:     normalize.Role(raw.ActorRole),
		Kind:          raw.Kind,
		Action:        raw.Action,
		Details:       raw.Details,
		ClientTime:    raw.ClientTime,
	}
	switch {
	case raw.TS > 0:
		entry.Time = time.UnixMilli(int64(raw.TS)).UTC()
	case raw.ClientTime != "":
		if t, err := time.Parse(time.RFC3339Nano, raw.ClientTime); err == nil {
			entry.Time = t
		}
	}
	return entry
}

func actorLabel(username, email string) string {
	if s := strings.TrimSpace(username); s != "" {
		return s
	}
	if s := strings.TrimSpace(email); s != "" {
		return s
	}
	return unknownActor
}
