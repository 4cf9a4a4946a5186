package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/candidate-sync/internal/models"
	"github.com/noah-isme/candidate-sync/internal/normalize"
	"github.com/noah-isme/candidate-sync/internal/repository"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
)

type presenceWriter interface {
	Set(ctx context.Context, collection, id string, fields map[string]interface{}, merge bool) error
}

type presenceGovernor interface {
	BumpWrites(n int64)
	Lock(reason string, untilMs int64)
	IsLocked() bool
}

// PresenceService runs the heartbeat of one session and holds the latest presence view.
type PresenceService struct {
	store    presenceWriter
	quota    presenceGovernor
	tasks    taskSubmitter
	clock    Clock
	interval time.Duration
	window   time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	sess    models.SessionContext
	running bool
	timer   Timer
	entries []models.PresenceEntry
}

// NewPresenceService builds a stopped heartbeat.
func NewPresenceService(store presenceWriter, quota presenceGovernor, runner taskSubmitter, clock Clock, interval, window time.Duration, logger *zap.Logger) *PresenceService {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if window <= 0 {
		window = 15 * time.Second
	}
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceService{
		store:    store,
		quota:    quota,
		tasks:    runner,
		clock:    clock,
		interval: interval,
		window:   window,
		logger:   logger,
	}
}

// Start beats once right away and then every interval until Stop.
func (p *PresenceService) Start(sess models.SessionContext) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.sess = sess
	p.running = true
	p.mu.Unlock()
	p.beat()
}

// Stop ends the heartbeat.
func (p *PresenceService) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *PresenceService) beat() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	sess := p.sess
	p.timer = p.clock.AfterFunc(p.interval, p.beat)
	p.mu.Unlock()

	if p.quota != nil && p.quota.IsLocked() {
		return
	}
	p.write("presence.heartbeat", sess, map[string]interface{}{
		"online":     true,
		"username":   sess.Username,
		"email":      sess.Email,
		"role":       string(sess.Role),
		"lastSeenMs": p.clock.Now().UnixMilli(),
	})
}

// MarkOffline records that the session signed out.
func (p *PresenceService) MarkOffline() {
	p.mu.Lock()
	sess := p.sess
	p.mu.Unlock()
	if sess.UID == "" {
		return
	}
	p.write("presence.offline", sess, map[string]interface{}{
		"online":     false,
		"lastSeenMs": p.clock.Now().UnixMilli(),
	})
}

func (p *PresenceService) write(name string, sess models.SessionContext, fields map[string]interface{}) {
	if p.store == nil || p.tasks == nil {
		return
	}
	submitted := p.tasks.Submit(name, func(ctx context.Context) error {
		err := p.store.Set(ctx, repository.CollectionPresence, sess.UID, fields, true)
		switch {
		case err == nil:
			if p.quota != nil {
				p.quota.BumpWrites(1)
			}
		case appErrors.IsQuota(err):
			if p.quota != nil {
				p.quota.Lock("", 0)
			}
		default:
			p.logger.Debug("presence write failed", zap.String("uid", sess.UID), zap.Error(err))
		}
		return nil
	})
	if !submitted {
		p.logger.Debug("presence write dropped", zap.String("task", name))
	}
}

// ApplyFeed replaces the presence view.
func (p *PresenceService) ApplyFeed(docs []repository.Document) {
	entries := make([]models.PresenceEntry, 0, len(docs))
	for _, doc := range docs {
		var raw struct {
			Username   models.FlexString `json:"username"`
			Email      models.FlexString `json:"email"`
			Role       models.FlexString `json:"role"`
			Online     bool              `json:"online"`
			LastSeenMs models.FlexInt    `json:"lastSeenMs"`
		}
		if err := doc.Decode(&raw); err != nil {
			p.logger.Debug("skip malformed presence document", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		entries = append(entries, models.PresenceEntry{
			UID:        doc.ID,
			Username:   strings.TrimSpace(string(raw.Username)),
			Email:      strings.TrimSpace(string(raw.Email)),
			Role:       normalize.Role(string(raw.Role)),
			Online:     raw.Online,
			LastSeenMs: int64(raw.LastSeenMs),
		})
	}
	p.mu.Lock()
	p.entries = entries
	p.mu.Unlock()
}

// Entries returns the latest presence view.
func (p *PresenceService) Entries() []models.PresenceEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.PresenceEntry(nil), p.entries...)
}

// Online returns the entries whose heartbeat is inside the online window at now. Entries
// marked offline at sign-out are excluded even while their last heartbeat is recent.
func (p *PresenceService) Online(now time.Time) []models.PresenceEntry {
	all := p.Entries()
	out := make([]models.PresenceEntry, 0, len(all))
	for _, e := range all {
		if e.Online && normalize.IsOnline(e.LastSeenMs, now, p.window) {
			out = append(out, e)
		}
	}
	return out
}
