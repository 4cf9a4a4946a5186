package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/candidate-sync/internal/models"
	"github.com/noah-isme/candidate-sync/internal/repository"
	appErrors "github.com/noah-isme/candidate-sync/pkg/errors"
	"github.com/noah-isme/candidate-sync/pkg/tasks"
)

// Lock reasons shown to users.
const (
	ReasonMaintenance = "يوجد صيانة مؤقتة بسبب ضغط الاستخدام. يرجى المحاولة لاحقًا."
	ReasonRemoteLock  = "تم إيقاف النظام مؤقتًا."
)

const (
	minWakeDelay   = time.Second
	wakeSlack      = 250 * time.Millisecond
	defaultResetAt = 2 * time.Second
)

type statusWriter interface {
	Set(ctx context.Context, collection, id string, fields map[string]interface{}, merge bool) error
}

type taskSubmitter interface {
	Submit(name string, fn tasks.Func) bool
}

type quotaObserver interface {
	ObserveQuota(state models.QuotaState)
}

// QuotaGovernorConfig sets the ceilings and timings of a governor.
type QuotaGovernorConfig struct {
	ReadsMax        int64
	WritesMax       int64
	WarnRatio       float64
	PublishInterval time.Duration
	Location        *time.Location
	ResetOffset     time.Duration
}

// QuotaListener is told about lock transitions. Listeners run outside the governor lock
// and may call back into it.
type QuotaListener func(state models.QuotaState)

// LockError is returned by Guard while the system is locked.
type LockError struct {
	State       models.QuotaState
	RemainingMs int64
}

func (e *LockError) Error() string {
	return fmt.Sprintf("%s: %s", appErrors.ErrLocked.Message, e.State.LockedReason)
}

// Unwrap exposes the typed sentinel so FromError and Classify see ErrLocked.
func (e *LockError) Unwrap() error {
	return appErrors.ErrLocked
}

// QuotaGovernor keeps the per-session estimate of store usage and the advisory lock that
// is shared with other instances through system/appStatus. It is the only writer of
// QuotaState.
type QuotaGovernor struct {
	store  statusWriter
	tasks  taskSubmitter
	clock  Clock
	cfg    QuotaGovernorConfig
	logger *zap.Logger

	mu           sync.Mutex
	state        models.QuotaState
	actor        models.Actor
	observer     quotaObserver
	wake         Timer
	pending      map[string]interface{}
	publishTimer Timer
	lastPublish  time.Time
	onLock       []QuotaListener
	onUnlock     []QuotaListener
	closed       bool
}

type quotaEffects struct {
	locked   bool
	unlocked bool
	flush    bool
	state    models.QuotaState
}

// NewQuotaGovernor builds a governor in the Normal state.
func NewQuotaGovernor(store statusWriter, runner taskSubmitter, clock Clock, actor models.Actor, cfg QuotaGovernorConfig, logger *zap.Logger) *QuotaGovernor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock()
	}
	if cfg.ReadsMax <= 0 {
		cfg.ReadsMax = 50000
	}
	if cfg.WritesMax <= 0 {
		cfg.WritesMax = 50000
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 800 * time.Millisecond
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.ResetOffset <= 0 {
		cfg.ResetOffset = defaultResetAt
	}
	return &QuotaGovernor{
		store:  store,
		tasks:  runner,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
		actor:  actor,
		state:  models.QuotaState{ReadsMax: cfg.ReadsMax, WritesMax: cfg.WritesMax},
	}
}

// NextReset returns the next quota reset after now: the following local midnight plus
// offset, in unix milliseconds.
func NextReset(now time.Time, loc *time.Location, offset time.Duration) int64 {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return midnight.Add(offset).UnixMilli()
}

// SetActor changes the identity used for status publishes.
func (g *QuotaGovernor) SetActor(actor models.Actor) {
	g.mu.Lock()
	g.actor = actor
	g.mu.Unlock()
}

// SetObserver mirrors every state change into obs.
func (g *QuotaGovernor) SetObserver(obs quotaObserver) {
	g.mu.Lock()
	g.observer = obs
	g.mu.Unlock()
}

// OnLock registers fn for Normal to Locked transitions.
func (g *QuotaGovernor) OnLock(fn QuotaListener) {
	g.mu.Lock()
	g.onLock = append(g.onLock, fn)
	g.mu.Unlock()
}

// OnUnlock registers fn for Locked to Normal transitions.
func (g *QuotaGovernor) OnUnlock(fn QuotaListener) {
	g.mu.Lock()
	g.onUnlock = append(g.onUnlock, fn)
	g.mu.Unlock()
}

// BumpReads adds n estimated reads. Negative n counts as zero.
func (g *QuotaGovernor) BumpReads(n int64) {
	g.bump(n, 0)
}

// BumpWrites adds n estimated writes. Negative n counts as zero.
func (g *QuotaGovernor) BumpWrites(n int64) {
	g.bump(0, n)
}

func (g *QuotaGovernor) bump(reads, writes int64) {
	if reads < 0 {
		reads = 0
	}
	if writes < 0 {
		writes = 0
	}
	now := g.clock.Now()

	g.mu.Lock()
	var fx quotaEffects
	g.expireLocked(now, &fx)
	g.state.ReadsUsed += reads
	g.state.WritesUsed += writes
	if !g.state.Locked && (g.state.ReadsUsed >= g.cfg.ReadsMax || g.state.WritesUsed >= g.cfg.WritesMax) {
		g.lockLocked(ReasonMaintenance, 0, now, &fx)
	} else {
		g.warnLocked(now, &fx)
	}
	fx.state = g.state
	g.mu.Unlock()

	g.apply(fx)
}

// Lock enters the Locked state until untilMs, or the next reset when untilMs is not in
// the future. Locking while locked only extends the deadline.
func (g *QuotaGovernor) Lock(reason string, untilMs int64) {
	now := g.clock.Now()
	g.mu.Lock()
	var fx quotaEffects
	g.expireLocked(now, &fx)
	g.lockLocked(reason, untilMs, now, &fx)
	fx.state = g.state
	g.mu.Unlock()
	g.apply(fx)
}

// ApplyRemote folds the shared status record into local state. The remote record takes
// precedence over the local estimate. A nil record means the document does not exist and
// leaves local state untouched.
func (g *QuotaGovernor) ApplyRemote(rec *models.StatusRecord) {
	if rec == nil {
		g.apply(quotaEffects{state: g.State()})
		return
	}
	now := g.clock.Now()
	nowMs := now.UnixMilli()

	g.mu.Lock()
	var fx quotaEffects
	admin := g.actor.Role.IsAdmin()

	remoteLocked := rec.Locked
	remoteWarn := rec.Warn
	switch {
	case rec.Locked && rec.UntilMs > 0 && rec.UntilMs <= nowMs:
		remoteLocked, remoteWarn = false, false
		g.state.ReadsUsed, g.state.WritesUsed = 0, 0
		if admin {
			fx.flush = g.queuePublishLocked(now, clearedStatus())
		}
	case rec.Warn && rec.WarnUntilMs > 0 && rec.WarnUntilMs <= nowMs:
		remoteWarn = false
		g.state.ReadsUsed, g.state.WritesUsed = 0, 0
		if admin {
			fx.flush = g.queuePublishLocked(now, map[string]interface{}{
				"warn": false, "warnUntilMs": 0, "readsUsed": 0, "writesUsed": 0,
			})
		}
	default:
		if rec.ReadsUsed != nil {
			g.state.ReadsUsed = *rec.ReadsUsed
		}
		if rec.WritesUsed != nil {
			g.state.WritesUsed = *rec.WritesUsed
		}
	}

	g.state.ReadsMax, g.state.WritesMax = g.cfg.ReadsMax, g.cfg.WritesMax
	g.state.Warn = remoteWarn
	g.state.WarnUntilMs = 0
	if remoteWarn {
		g.state.WarnUntilMs = rec.WarnUntilMs
	}

	if remoteLocked {
		until := rec.UntilMs
		if until <= 0 {
			until = NextReset(now, g.cfg.Location, g.cfg.ResetOffset)
		}
		reason := rec.Reason
		if reason == "" {
			reason = ReasonRemoteLock
		}
		fx.locked = !g.state.Locked
		g.state.Locked = true
		g.state.LockedReason = reason
		g.state.LockedUntilMs = until
		g.scheduleWakeLocked(now)
	} else if g.state.Locked {
		g.unlockLocked()
		fx.unlocked = true
	}

	fx.state = g.state
	g.mu.Unlock()
	g.apply(fx)
}

// State returns the current estimate. An expired lock is released here and counters are
// reset, so observing never re-locks without a fresh trigger.
func (g *QuotaGovernor) State() models.QuotaState {
	now := g.clock.Now()
	g.mu.Lock()
	var fx quotaEffects
	g.expireLocked(now, &fx)
	fx.state = g.state
	g.mu.Unlock()
	if fx.unlocked {
		g.apply(fx)
	}
	return fx.state
}

// IsLocked reports whether mutations are currently refused.
func (g *QuotaGovernor) IsLocked() bool {
	return g.State().Locked
}

// Guard returns a *LockError while locked. Reads are never gated.
func (g *QuotaGovernor) Guard() error {
	state := g.State()
	if !state.Locked {
		return nil
	}
	return &LockError{State: state, RemainingMs: state.RemainingMs(g.clock.Now().UnixMilli())}
}

// Reload resets counters and releases the lock. Unlock listeners fire when a lock was
// held, and an admin clears the shared record.
func (g *QuotaGovernor) Reload() {
	now := g.clock.Now()
	g.mu.Lock()
	var fx quotaEffects
	g.reloadLocked(now, &fx)
	fx.state = g.state
	g.mu.Unlock()
	g.apply(fx)
}

// Close stops timers and pending publishes.
func (g *QuotaGovernor) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	if g.wake != nil {
		g.wake.Stop()
		g.wake = nil
	}
	if g.publishTimer != nil {
		g.publishTimer.Stop()
		g.publishTimer = nil
	}
	g.pending = nil
}

func (g *QuotaGovernor) expireLocked(now time.Time, fx *quotaEffects) {
	if g.state.Locked && g.state.LockedUntilMs <= now.UnixMilli() {
		g.reloadLocked(now, fx)
	}
}

func (g *QuotaGovernor) reloadLocked(now time.Time, fx *quotaEffects) {
	wasLocked := g.state.Locked
	g.state.ReadsUsed, g.state.WritesUsed = 0, 0
	g.state.Warn, g.state.WarnUntilMs = false, 0
	if !wasLocked {
		return
	}
	g.unlockLocked()
	fx.unlocked = true
	if g.actor.Role.IsAdmin() {
		fx.flush = g.queuePublishLocked(now, clearedStatus()) || fx.flush
	}
}

// clearedStatus is the shared record of an unlocked system with fresh counters.
func clearedStatus() map[string]interface{} {
	return map[string]interface{}{
		"locked": false, "warn": false, "reason": "", "untilMs": 0, "readsUsed": 0, "writesUsed": 0,
	}
}

// ClearStatus publishes an unlocked status with reset counters on behalf of actor.
// Every instance adopts it on its next status delivery.
func ClearStatus(ctx context.Context, store statusWriter, actor models.Actor) error {
	fields := clearedStatus()
	fields["warnUntilMs"] = 0
	fields["updatedAt"] = repository.ServerTimestamp
	fields["updatedBy"] = actor.Map()
	return store.Set(ctx, repository.CollectionSystem, repository.DocAppStatus, fields, true)
}

func (g *QuotaGovernor) unlockLocked() {
	g.state.Locked = false
	g.state.LockedReason = ""
	g.state.LockedUntilMs = 0
	if g.wake != nil {
		g.wake.Stop()
		g.wake = nil
	}
}

func (g *QuotaGovernor) lockLocked(reason string, untilMs int64, now time.Time, fx *quotaEffects) {
	if reason == "" {
		reason = ReasonMaintenance
	}
	if untilMs <= now.UnixMilli() {
		untilMs = NextReset(now, g.cfg.Location, g.cfg.ResetOffset)
	}
	if g.state.Locked {
		if untilMs <= g.state.LockedUntilMs {
			return
		}
	} else {
		fx.locked = true
		g.state.LockedReason = reason
	}
	g.state.Locked = true
	g.state.LockedUntilMs = untilMs
	g.state.Warn = false
	g.scheduleWakeLocked(now)

	if g.actor.Role.IsAdmin() {
		fx.flush = g.queuePublishLocked(now, map[string]interface{}{
			"locked":     true,
			"warn":       false,
			"reason":     g.state.LockedReason,
			"untilMs":    g.state.LockedUntilMs,
			"readsUsed":  g.state.ReadsUsed,
			"writesUsed": g.state.WritesUsed,
			"readsMax":   g.cfg.ReadsMax,
			"writesMax":  g.cfg.WritesMax,
		}) || fx.flush
	}
}

func (g *QuotaGovernor) warnLocked(now time.Time, fx *quotaEffects) {
	if g.cfg.WarnRatio <= 0 || g.state.Locked {
		return
	}
	warn := float64(g.state.ReadsUsed) >= g.cfg.WarnRatio*float64(g.cfg.ReadsMax) ||
		float64(g.state.WritesUsed) >= g.cfg.WarnRatio*float64(g.cfg.WritesMax)
	if warn == g.state.Warn {
		return
	}
	g.state.Warn = warn
	g.state.WarnUntilMs = 0
	if warn {
		g.state.WarnUntilMs = NextReset(now, g.cfg.Location, g.cfg.ResetOffset)
	}
	if g.actor.Role.IsAdmin() {
		fx.flush = g.queuePublishLocked(now, map[string]interface{}{
			"warn":        g.state.Warn,
			"warnUntilMs": g.state.WarnUntilMs,
			"readsUsed":   g.state.ReadsUsed,
			"writesUsed":  g.state.WritesUsed,
			"readsMax":    g.cfg.ReadsMax,
			"writesMax":   g.cfg.WritesMax,
		}) || fx.flush
	}
}

func (g *QuotaGovernor) scheduleWakeLocked(now time.Time) {
	if g.closed {
		return
	}
	if g.wake != nil {
		g.wake.Stop()
	}
	delay := time.Duration(g.state.LockedUntilMs-now.UnixMilli())*time.Millisecond + wakeSlack
	if delay < minWakeDelay {
		delay = minWakeDelay
	}
	g.wake = g.clock.AfterFunc(delay, g.onWake)
}

func (g *QuotaGovernor) onWake() {
	now := g.clock.Now()
	g.mu.Lock()
	if g.closed || !g.state.Locked {
		g.mu.Unlock()
		return
	}
	var fx quotaEffects
	g.wake = nil
	if g.state.LockedUntilMs <= now.UnixMilli() {
		g.reloadLocked(now, &fx)
	} else {
		g.scheduleWakeLocked(now)
	}
	fx.state = g.state
	g.mu.Unlock()
	g.apply(fx)
}

// queuePublishLocked merges fields into the pending status write and reports whether it
// must be flushed right away. Otherwise a trailing flush is scheduled.
func (g *QuotaGovernor) queuePublishLocked(now time.Time, fields map[string]interface{}) bool {
	if g.closed || g.store == nil {
		return false
	}
	if g.pending == nil {
		g.pending = make(map[string]interface{}, len(fields))
	}
	for k, v := range fields {
		g.pending[k] = v
	}
	if g.publishTimer != nil {
		return false
	}
	wait := g.lastPublish.Add(g.cfg.PublishInterval).Sub(now)
	if g.lastPublish.IsZero() || wait <= 0 {
		return true
	}
	g.publishTimer = g.clock.AfterFunc(wait, g.flush)
	return false
}

func (g *QuotaGovernor) flush() {
	g.mu.Lock()
	g.publishTimer = nil
	if g.closed || len(g.pending) == 0 {
		g.mu.Unlock()
		return
	}
	fields := g.pending
	g.pending = nil
	g.lastPublish = g.clock.Now()
	fields["updatedAt"] = repository.ServerTimestamp
	fields["updatedBy"] = g.actor.Map()
	g.mu.Unlock()

	publish := func(ctx context.Context) error {
		if err := g.store.Set(ctx, repository.CollectionSystem, repository.DocAppStatus, fields, true); err != nil {
			g.logger.Warn("publish quota status failed", zap.Error(err))
			return nil
		}
		g.addWrites(1)
		return nil
	}
	if g.tasks == nil || !g.tasks.Submit("quota.publish", publish) {
		g.logger.Debug("quota status publish dropped")
	}
}

// addWrites counts the governor's own status writes. It never triggers a publish.
func (g *QuotaGovernor) addWrites(n int64) {
	g.mu.Lock()
	g.state.WritesUsed += n
	state := g.state
	obs := g.observer
	g.mu.Unlock()
	if obs != nil {
		obs.ObserveQuota(state)
	}
}

func (g *QuotaGovernor) apply(fx quotaEffects) {
	g.mu.Lock()
	obs := g.observer
	lockListeners := append([]QuotaListener(nil), g.onLock...)
	unlockListeners := append([]QuotaListener(nil), g.onUnlock...)
	g.mu.Unlock()

	if obs != nil {
		obs.ObserveQuota(fx.state)
	}
	if fx.flush {
		g.flush()
	}
	if fx.unlocked {
		for _, fn := range unlockListeners {
			fn(fx.state)
		}
	}
	if fx.locked {
		for _, fn := range lockListeners {
			fn(fx.state)
		}
		g.logger.Info("quota lock engaged",
			zap.String("reason", fx.state.LockedReason),
			zap.Int64("locked_until_ms", fx.state.LockedUntilMs),
			zap.Int64("reads_used", fx.state.ReadsUsed),
			zap.Int64("writes_used", fx.state.WritesUsed))
	}
}
