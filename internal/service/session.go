package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/candidate-sync/internal/models"
	"github.com/noah-isme/candidate-sync/internal/normalize"
	"github.com/noah-isme/candidate-sync/internal/repository"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
)

// Identity is the verified subject of an identity token.
type Identity struct {
	UID   string
	Email string
	Name  string
}

// IdentityFromClaims extracts the identity of validated claims.
func IdentityFromClaims(claims *models.IdentityClaims) Identity {
	if claims == nil {
		return Identity{}
	}
	return Identity{UID: claims.UID(), Email: strings.TrimSpace(claims.Email), Name: strings.TrimSpace(claims.Name)}
}

type sessionStore interface {
	Get(ctx context.Context, collection, id string) (*repository.Document, error)
	Set(ctx context.Context, collection, id string, fields map[string]interface{}, merge bool) error
	Add(ctx context.Context, collection string, fields map[string]interface{}) (string, error)
	Watch(ctx context.Context, q repository.Query) (<-chan repository.FeedEvent, error)
}

type configSeeder interface {
	SeedDefaults(ctx context.Context, sess *Session) error
}

// SessionConfig carries the tunables of every engine session.
type SessionConfig struct {
	Quota              QuotaGovernorConfig
	Subscriptions      SubscriptionConfig
	HeartbeatInterval  time.Duration
	OnlineWindow       time.Duration
	AuditCapacity      int
	AuditFeedLimit     int
	CandidatesLimit    int
	PresenceLimit      int
	ProfilesLimit      int
	SuperAdminEmail    string
	SuperAdminUsername string
	DefaultMention     string
	Location           *time.Location
	StreamBuffer       int
}

// SessionDeps are the collaborators shared by all sessions.
type SessionDeps struct {
	Store   sessionStore
	Tasks   taskSubmitter
	Clock   Clock
	Metrics *MetricsService
	Seeder  configSeeder
	Logger  *zap.Logger
}

// Session is the engine state of one signed-in identity. It owns the quota governor,
// the live feeds and the snapshots derived from them.
type Session struct {
	identity Identity
	cfg      SessionConfig
	store    sessionStore
	tasks    taskSubmitter
	clock    Clock
	metrics  *MetricsService
	seeder   configSeeder
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	Quota    *QuotaGovernor
	Subs     *SubscriptionManager
	Audit    *AuditRecorder
	Presence *PresenceService
	Hub      *Hub

	mu         sync.RWMutex
	sess       models.SessionContext
	profile    models.Profile
	config     *models.AppConfig
	configErr  error
	seeding    bool
	candidates []models.CandidateRecord
	profiles   []models.Profile
	feedErrors map[Topic]string
	started    bool
	stopped    bool
	stopOnce   sync.Once
}

// NewSession wires the per-session components. Nothing runs until Start.
func NewSession(identity Identity, cfg SessionConfig, deps SessionDeps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("uid", identity.UID))
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.AuditFeedLimit <= 0 {
		cfg.AuditFeedLimit = 200
	}
	if cfg.CandidatesLimit <= 0 {
		cfg.CandidatesLimit = 2000
	}
	if cfg.PresenceLimit <= 0 {
		cfg.PresenceLimit = 200
	}
	if cfg.ProfilesLimit <= 0 {
		cfg.ProfilesLimit = 500
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		identity:   identity,
		cfg:        cfg,
		store:      deps.Store,
		tasks:      deps.Tasks,
		clock:      clock,
		metrics:    deps.Metrics,
		seeder:     deps.Seeder,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		feedErrors: make(map[Topic]string),
		configErr:  appErrors.Clone(appErrors.ErrNotConfigured, "configuration is loading"),
	}
	s.Quota = NewQuotaGovernor(deps.Store, deps.Tasks, clock, models.Actor{UID: identity.UID, Email: identity.Email}, cfg.Quota, logger)
	s.Quota.SetObserver(deps.Metrics)
	s.Subs = NewSubscriptionManager(deps.Store, s.Quota, clock, deps.Metrics, cfg.Subscriptions, logger)
	s.Audit = NewAuditRecorder(deps.Store, s.Quota, deps.Tasks, clock, deps.Metrics, cfg.AuditCapacity, logger)
	s.Presence = NewPresenceService(deps.Store, s.Quota, deps.Tasks, clock, cfg.HeartbeatInterval, cfg.OnlineWindow, logger)
	s.Hub = NewHub(cfg.StreamBuffer, logger)
	return s
}

// Start resolves the profile, opens the feeds allowed for the role, starts the presence
// heartbeat and records the sign-in.
func (s *Session) Start(ctx context.Context) error {
	profile, err := s.resolveProfile(ctx)
	if err != nil {
		return err
	}
	sc := models.SessionContext{UID: s.identity.UID, Email: profile.Email, Username: profile.Username, Role: profile.Role}

	s.mu.Lock()
	s.sess = sc
	s.profile = profile
	s.started = true
	s.mu.Unlock()

	s.Quota.SetActor(sc.Actor())
	s.Audit.SetActor(sc.Actor())
	s.Quota.OnLock(s.onLock)
	s.Quota.OnUnlock(s.onUnlock)
	s.Subs.SetErrorSink(s.onFeedError)

	for _, topic := range topicsFor(sc.Role) {
		if err := s.subscribeTopic(topic); err != nil {
			s.Subs.CancelAll()
			return appErrors.Normalize(err, "failed to open live feeds")
		}
	}

	s.Presence.Start(sc)
	s.Audit.Record(models.AuditKindAuth, models.AuditActionSignIn, map[string]interface{}{
		"email": sc.Email,
		"role":  string(sc.Role),
	})
	s.logger.Info("session started", zap.String("role", string(sc.Role)))
	return nil
}

// Stop records the sign-out, marks presence offline and tears every feed down.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		started := s.started
		s.mu.Unlock()

		if started {
			s.Audit.Record(models.AuditKindAuth, models.AuditActionSignOut, nil)
			s.Presence.Stop()
			s.Presence.MarkOffline()
		}
		s.Subs.CancelAll()
		s.Quota.Close()
		s.Hub.Publish(Event{Type: EventSessionEnded, At: s.clock.Now()})
		s.Hub.Close()
		s.cancel()
		s.logger.Info("session stopped")
	})
}

// Reload resets counters and reopens any feed dropped by a lock.
func (s *Session) Reload() {
	s.Quota.Reload()
	s.resubscribe()
}

func topicsFor(role models.Role) []Topic {
	topics := []Topic{TopicStatus, TopicConfig, TopicCandidates}
	if role.IsAdmin() {
		topics = append(topics, TopicPresence, TopicProfiles, TopicAudit)
	}
	return topics
}

func (s *Session) subscribeTopic(topic Topic) error {
	var (
		q       repository.Query
		handler BatchHandler
	)
	switch topic {
	case TopicStatus:
		q, handler = repository.Query{Collection: repository.CollectionSystem, DocID: repository.DocAppStatus}, s.onStatus
	case TopicConfig:
		q, handler = repository.Query{Collection: repository.CollectionConfig, DocID: repository.DocAppConfig}, s.onConfig
	case TopicCandidates:
		q = repository.Query{Collection: repository.CollectionCandidates, OrderBy: "updatedAtMs", Desc: true, Limit: s.cfg.CandidatesLimit}
		handler = s.onCandidates
	case TopicPresence:
		q = repository.Query{Collection: repository.CollectionPresence, OrderBy: "lastSeenMs", Desc: true, Limit: s.cfg.PresenceLimit}
		handler = s.onPresence
	case TopicProfiles:
		q, handler = repository.Query{Collection: repository.CollectionProfiles, Limit: s.cfg.ProfilesLimit}, s.onProfiles
	case TopicAudit:
		q = repository.Query{Collection: repository.CollectionAudit, OrderBy: "ts", Desc: true, Limit: s.cfg.AuditFeedLimit}
		handler = s.onAudit
	default:
		return nil
	}

	_, err := s.Subs.Subscribe(s.ctx, topic, q, handler)
	var lockErr *LockError
	if errors.As(err, &lockErr) {
		s.logger.Debug("feed deferred until unlock", zap.String("topic", string(topic)))
		return nil
	}
	return err
}

func (s *Session) resubscribe() {
	s.mu.RLock()
	stopped, role := s.stopped, s.sess.Role
	s.mu.RUnlock()
	if stopped {
		return
	}
	for _, topic := range topicsFor(role) {
		if s.Subs.IsActive(topic) {
			continue
		}
		if err := s.subscribeTopic(topic); err != nil {
			s.logger.Warn("resubscribe failed", zap.String("topic", string(topic)), zap.Error(err))
		}
	}
}

func (s *Session) onLock(state models.QuotaState) {
	s.Subs.OnLocked()
	s.Audit.Note(models.AuditKindSystem, models.AuditActionQuotaLock, map[string]interface{}{
		"reason":        state.LockedReason,
		"lockedUntilMs": state.LockedUntilMs,
	})
	s.publish(EventQuota, state)
}

func (s *Session) onUnlock(state models.QuotaState) {
	s.publish(EventQuota, state)
	s.resubscribe()
}

func (s *Session) onFeedError(topic Topic, kind appErrors.Kind, err error) {
	s.mu.Lock()
	s.feedErrors[topic] = kind.String()
	if topic == TopicConfig && s.config == nil {
		s.configErr = appErrors.Normalize(err, "configuration feed failed")
	}
	s.mu.Unlock()
	if topic == TopicAudit {
		s.Audit.FeedFailed()
	}
	s.publish(EventFeedError, map[string]string{"topic": string(topic), "kind": kind.String()})
}

func (s *Session) onStatus(b Batch) {
	var rec *models.StatusRecord
	if b.Exists && len(b.Docs) > 0 {
		rec = &models.StatusRecord{}
		if err := b.Docs[0].Decode(rec); err != nil {
			s.logger.Warn("malformed status record", zap.Error(err))
			return
		}
	}
	s.clearFeedError(TopicStatus)
	s.Quota.ApplyRemote(rec)
	s.publish(EventQuota, s.Quota.State())
}

func (s *Session) onConfig(b Batch) {
	if !b.Exists || len(b.Docs) == 0 {
		if s.Context().Role.IsAdmin() {
			s.seedDefaults()
		}
		s.mu.Lock()
		s.config = nil
		s.configErr = appErrors.ErrNotConfigured
		s.mu.Unlock()
		s.publish(EventConfig, map[string]bool{"configured": false})
		return
	}

	var doc models.AppConfigDocument
	if err := b.Docs[0].Decode(&doc); err != nil {
		s.logger.Warn("malformed config document", zap.Error(err))
		return
	}
	cfg := NormalizeAppConfig(doc, s.cfg.DefaultMention)

	s.mu.Lock()
	s.config = cfg
	s.configErr = nil
	s.seeding = false
	delete(s.feedErrors, TopicConfig)
	s.mu.Unlock()
	s.publish(EventConfig, map[string]interface{}{"configured": true, "questions": len(cfg.Questions), "updatedAtMs": cfg.UpdatedAtMs})
}

func (s *Session) seedDefaults() {
	s.mu.Lock()
	if s.seeding || s.seeder == nil || s.tasks == nil {
		s.mu.Unlock()
		return
	}
	s.seeding = true
	s.mu.Unlock()

	s.tasks.Submit("config.seed", func(ctx context.Context) error {
		if err := s.seeder.SeedDefaults(ctx, s); err != nil {
			s.mu.Lock()
			s.seeding = false
			s.mu.Unlock()
			s.logger.Warn("seeding default config failed", zap.Error(err))
		}
		return nil
	})
}

func (s *Session) onCandidates(b Batch) {
	records := make([]models.CandidateRecord, 0, len(b.Docs))
	for _, doc := range b.Docs {
		var raw models.CandidateDocument
		if err := doc.Decode(&raw); err != nil {
			s.logger.Debug("skip malformed candidate", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		records = append(records, DecodeCandidate(doc.ID, raw))
	}
	reconciled := Reconcile(records)

	s.mu.Lock()
	s.candidates = reconciled
	delete(s.feedErrors, TopicCandidates)
	s.mu.Unlock()
	s.publish(EventCandidates, map[string]int{"count": len(reconciled), "received": len(b.Docs)})
}

func (s *Session) onPresence(b Batch) {
	s.Presence.ApplyFeed(b.Docs)
	s.clearFeedError(TopicPresence)
	s.publish(EventPresence, map[string]int{"online": len(s.Presence.Online(s.clock.Now()))})
}

func (s *Session) onProfiles(b Batch) {
	profiles := make([]models.Profile, 0, len(b.Docs))
	for _, doc := range b.Docs {
		p, err := decodeProfile(doc)
		if err != nil {
			s.logger.Debug("skip malformed profile", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		profiles = append(profiles, p)
	}
	s.mu.Lock()
	s.profiles = profiles
	delete(s.feedErrors, TopicProfiles)
	s.mu.Unlock()
	s.publish(EventProfiles, map[string]int{"count": len(profiles)})
}

func (s *Session) onAudit(b Batch) {
	s.Audit.ApplyFeed(b.Docs)
	s.clearFeedError(TopicAudit)
	s.publish(EventAudit, map[string]int{"count": len(b.Docs)})
}

func (s *Session) clearFeedError(topic Topic) {
	s.mu.Lock()
	delete(s.feedErrors, topic)
	s.mu.Unlock()
}

func (s *Session) publish(kind string, data interface{}) {
	s.Hub.Publish(Event{Type: kind, At: s.clock.Now(), Data: data})
}

type profileDocument struct {
	Username    models.FlexString `json:"username"`
	Email       models.FlexString `json:"email"`
	Role        models.FlexString `json:"role"`
	Preferences struct {
		SortOrder string `json:"sortOrder"`
	} `json:"preferences"`
	CreatedAt models.FlexInt `json:"createdAt"`
}

func decodeProfile(doc repository.Document) (models.Profile, error) {
	var raw profileDocument
	if err := doc.Decode(&raw); err != nil {
		return models.Profile{}, err
	}
	email := strings.TrimSpace(string(raw.Email))
	return models.Profile{
		UID:         doc.ID,
		Username:    displayName(string(raw.Username), email, doc.ID),
		Email:       email,
		Role:        normalize.Role(string(raw.Role)),
		Preferences: models.Preferences{SortOrder: normalize.SortOrder(raw.Preferences.SortOrder)},
		CreatedAt:   int64(raw.CreatedAt),
	}, nil
}

func displayName(username, email, uid string) string {
	if s := strings.TrimSpace(username); s != "" {
		return s
	}
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	if email != "" {
		return email
	}
	return uid
}

func (s *Session) resolveProfile(ctx context.Context) (models.Profile, error) {
	doc, err := s.store.Get(ctx, repository.CollectionProfiles, s.identity.UID)
	switch {
	case err == nil:
		s.Quota.BumpReads(1)
		profile, decodeErr := decodeProfile(*doc)
		if decodeErr != nil {
			return models.Profile{}, appErrors.Wrap(decodeErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "malformed profile")
		}
		if profile.Email == "" {
			profile.Email = s.identity.Email
		}
		return profile, nil
	case appErrors.Classify(err) == appErrors.KindNotFound:
		s.Quota.BumpReads(1)
		return s.createProfile(ctx)
	default:
		if appErrors.IsQuota(err) {
			s.Quota.Lock("", 0)
		}
		return models.Profile{}, appErrors.Normalize(err, "failed to load profile")
	}
}

func (s *Session) createProfile(ctx context.Context) (models.Profile, error) {
	role := models.RoleTrainer
	name := s.identity.Name
	if s.cfg.SuperAdminEmail != "" && strings.EqualFold(s.identity.Email, s.cfg.SuperAdminEmail) {
		role = models.RoleSuperAdmin
		if name == "" {
			name = s.cfg.SuperAdminUsername
		}
	}
	profile := models.Profile{
		UID:         s.identity.UID,
		Username:    displayName(name, s.identity.Email, s.identity.UID),
		Email:       s.identity.Email,
		Role:        role,
		Preferences: models.Preferences{SortOrder: models.SortNewest},
		CreatedAt:   s.clock.Now().UnixMilli(),
	}
	fields := map[string]interface{}{
		"username":    profile.Username,
		"email":       profile.Email,
		"role":        string(profile.Role),
		"preferences": map[string]interface{}{"sortOrder": profile.Preferences.SortOrder},
		"createdAt":   repository.ServerTimestamp,
	}
	if err := s.store.Set(ctx, repository.CollectionProfiles, s.identity.UID, fields, false); err != nil {
		if appErrors.IsQuota(err) {
			s.Quota.Lock("", 0)
		}
		return models.Profile{}, appErrors.Normalize(err, "failed to create profile")
	}
	s.Quota.BumpWrites(1)
	s.logger.Info("profile created", zap.String("role", string(role)))
	return profile, nil
}

// Context returns the resolved identity of the session.
func (s *Session) Context() models.SessionContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess
}

// Profile returns the profile resolved at sign-in.
func (s *Session) Profile() models.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

// Config returns the latest configuration snapshot, or why there is none.
func (s *Session) Config() (*models.AppConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.config == nil {
		return nil, s.configErr
	}
	return s.config, nil
}

// Candidates returns a copy of the reconciled candidate set.
func (s *Session) Candidates() []models.CandidateRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CandidateRecord, len(s.candidates))
	for i, rec := range s.candidates {
		out[i] = rec.Clone()
	}
	return out
}

// Candidate finds a reconciled record by document id or by national id key.
func (s *Session) Candidate(id string) (models.CandidateRecord, bool) {
	var key string
	if strings.HasPrefix(id, "nid_") {
		key = normalize.NationalIDKey(strings.TrimPrefix(id, "nid_"))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.candidates {
		if rec.ID == id || (key != "" && normalize.NationalIDKey(rec.NationalID) == key) {
			return rec.Clone(), true
		}
	}
	return models.CandidateRecord{}, false
}

// Profiles returns the latest profile list (admin sessions only).
func (s *Session) Profiles() []models.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Profile(nil), s.profiles...)
}

// FeedErrors returns the last error kind per failed topic.
func (s *Session) FeedErrors() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.feedErrors))
	for topic, kind := range s.feedErrors {
		out[string(topic)] = kind
	}
	return out
}

// Location is the zone summary timestamps are rendered in.
func (s *Session) Location() *time.Location { return s.cfg.Location }

// Now is the session clock.
func (s *Session) Now() time.Time { return s.clock.Now() }

// Stopped reports whether Stop has run.
func (s *Session) Stopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// SessionRegistry maps uids to running sessions.
type SessionRegistry struct {
	cfg  SessionConfig
	deps SessionDeps

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	sess  *Session
	ready chan struct{}
	err   error
}

// NewSessionRegistry builds an empty registry.
func NewSessionRegistry(cfg SessionConfig, deps SessionDeps) *SessionRegistry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &SessionRegistry{cfg: cfg, deps: deps, sessions: make(map[string]*sessionEntry)}
}

// SetSeeder sets the config seeder of sessions started later.
func (r *SessionRegistry) SetSeeder(seeder configSeeder) {
	r.mu.Lock()
	r.deps.Seeder = seeder
	r.mu.Unlock()
}

// Start returns the running session of identity, starting one when needed. Concurrent
// callers for the same uid share one start.
func (r *SessionRegistry) Start(ctx context.Context, identity Identity) (*Session, error) {
	if identity.UID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	r.mu.Lock()
	if entry, ok := r.sessions[identity.UID]; ok {
		r.mu.Unlock()
		select {
		case <-entry.ready:
		case <-ctx.Done():
			return nil, appErrors.Normalize(ctx.Err(), "session start interrupted")
		}
		if entry.err != nil {
			return nil, entry.err
		}
		return entry.sess, nil
	}
	entry := &sessionEntry{sess: NewSession(identity, r.cfg, r.deps), ready: make(chan struct{})}
	r.sessions[identity.UID] = entry
	r.mu.Unlock()

	entry.err = entry.sess.Start(ctx)
	close(entry.ready)
	if entry.err != nil {
		r.mu.Lock()
		if r.sessions[identity.UID] == entry {
			delete(r.sessions, identity.UID)
		}
		r.mu.Unlock()
		entry.sess.Stop()
		return nil, entry.err
	}
	r.deps.Metrics.SessionStarted()
	return entry.sess, nil
}

// Get returns the started session of uid.
func (r *SessionRegistry) Get(uid string) (*Session, bool) {
	r.mu.Lock()
	entry, ok := r.sessions[uid]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-entry.ready:
		return entry.sess, entry.err == nil
	default:
		return nil, false
	}
}

// Stop ends the session of uid. It reports whether one was running.
func (r *SessionRegistry) Stop(uid string) bool {
	r.mu.Lock()
	entry, ok := r.sessions[uid]
	if ok {
		delete(r.sessions, uid)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	<-entry.ready
	if entry.err == nil {
		entry.sess.Stop()
		r.deps.Metrics.SessionEnded()
	}
	return true
}

// StopAll ends every session.
func (r *SessionRegistry) StopAll() {
	r.mu.Lock()
	uids := make([]string, 0, len(r.sessions))
	for uid := range r.sessions {
		uids = append(uids, uid)
	}
	r.mu.Unlock()
	for _, uid := range uids {
		r.Stop(uid)
	}
}

// Len counts registered sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
