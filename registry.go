package ride

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// SafeFallAttribute is the attribute the protective modifier is applied to.
	SafeFallAttribute = "safe_fall_distance"
	// SafeFallModifier identifies the modifier added while riding.
	SafeFallModifier = "ride:safe_fall"

	// staleCleanupAge is how long a deferred cleanup marker is kept for a
	// mount that never becomes reachable again.
	staleCleanupAge = 5 * time.Minute
)

// Session describes an active binding of a rider to a mount.
type Session struct {
	Rider   uuid.UUID
	Mount   uuid.UUID
	Started time.Time

	// Jumps is the number of air jumps left.
	Jumps int
	// Sprinting reports whether the rider is sprinting.
	Sprinting bool
}

// sprintGesture tracks forward key presses for double-tap detection.
type sprintGesture struct {
	active      bool
	wasPressed  bool
	lastPress   time.Time
	pressedOnce bool
}

// Registry holds all transient riding state: sessions, jump charges, sprint
// gestures, cooldowns, control task handles and deferred cleanup markers.
// Every method is safe for concurrent use from control tasks, event handlers
// and shutdown hooks.
type Registry struct {
	config *Config
	now    func() time.Time

	// sessions maps rider identity to its session
	sessions   map[uuid.UUID]*Session
	sessionsMu sync.RWMutex

	// charges holds remaining air jumps per rider
	charges   map[uuid.UUID]int
	chargesMu sync.Mutex

	// gestures holds sprint gesture state per rider
	gestures   map[uuid.UUID]*sprintGesture
	gesturesMu sync.Mutex

	jumpCooldowns *cooldownTable
	ramCooldowns  *cooldownTable

	// cleanups holds mounts whose protective modifier is still to be removed
	cleanups *cooldownTable

	// attaching holds mounts with a scheduled attach
	attaching *cooldownTable

	// tasks maps mount identity to its control task
	tasks   map[uuid.UUID]TaskHandle
	tasksMu sync.Mutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock replaces the time source used for cooldowns and gestures.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty registry reading its tunables from config.
func NewRegistry(config *Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		config:        config,
		now:           time.Now,
		sessions:      make(map[uuid.UUID]*Session),
		charges:       make(map[uuid.UUID]int),
		gestures:      make(map[uuid.UUID]*sprintGesture),
		jumpCooldowns: newCooldownTable(),
		ramCooldowns:  newCooldownTable(),
		cleanups:      newCooldownTable(),
		attaching:     newCooldownTable(),
		tasks:         make(map[uuid.UUID]TaskHandle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) settings() *Settings {
	return r.config.Settings()
}

// StartSession binds rider to mount, refills jump charges, clears sprint
// state and applies the protective modifier to both entities. A previous
// session of the rider on another mount is ended first.
func (r *Registry) StartSession(rider Rider, mount Mount) {
	id, mountID := rider.UUID(), mount.UUID()
	now := r.now()

	r.sessionsMu.Lock()
	prev := r.sessions[id]
	r.sessions[id] = &Session{Rider: id, Mount: mountID, Started: now}
	r.sessionsMu.Unlock()

	if prev != nil && prev.Mount != mountID {
		r.CancelControlTask(prev.Mount)
		r.cleanups.mark(prev.Mount, now)
	}
	// The mount gets a fresh modifier below, so an older pending removal
	// must not strip it later.
	r.cleanups.forget(mountID)

	r.ResetJumps(id)

	r.gesturesMu.Lock()
	r.gestures[id] = &sprintGesture{}
	r.gesturesMu.Unlock()

	distance := r.settings().FallProtectionDistance
	rider.AddModifier(SafeFallAttribute, SafeFallModifier, distance)
	mount.AddModifier(SafeFallAttribute, SafeFallModifier, distance)
}

// EndSession removes the rider's session and every per-rider entry, cancels
// the control task of the bound mount, removes the protective modifier from
// the rider and marks the mount for deferred cleanup. It is a no-op for
// riders without a session, apart from clearing stray per-rider entries.
func (r *Registry) EndSession(rider Living) {
	id := rider.UUID()

	r.sessionsMu.Lock()
	sess := r.sessions[id]
	delete(r.sessions, id)
	r.sessionsMu.Unlock()

	r.forgetRider(id)
	rider.RemoveModifier(SafeFallAttribute, SafeFallModifier)

	if sess == nil {
		return
	}
	r.CancelControlTask(sess.Mount)
	r.cleanups.mark(sess.Mount, r.now())
}

func (r *Registry) forgetRider(id uuid.UUID) {
	r.chargesMu.Lock()
	delete(r.charges, id)
	r.chargesMu.Unlock()

	r.gesturesMu.Lock()
	delete(r.gestures, id)
	r.gesturesMu.Unlock()

	r.jumpCooldowns.forget(id)
}

// IsRiding reports whether the rider has an active session.
func (r *Registry) IsRiding(rider uuid.UUID) bool {
	r.sessionsMu.RLock()
	defer r.sessionsMu.RUnlock()
	_, ok := r.sessions[rider]
	return ok
}

// MountOf returns the mount the rider is bound to.
func (r *Registry) MountOf(rider uuid.UUID) (uuid.UUID, bool) {
	r.sessionsMu.RLock()
	defer r.sessionsMu.RUnlock()
	if sess, ok := r.sessions[rider]; ok {
		return sess.Mount, true
	}
	return uuid.Nil, false
}

// RiderOf returns the rider bound to the mount.
func (r *Registry) RiderOf(mount uuid.UUID) (uuid.UUID, bool) {
	r.sessionsMu.RLock()
	defer r.sessionsMu.RUnlock()
	for id, sess := range r.sessions {
		if sess.Mount == mount {
			return id, true
		}
	}
	return uuid.Nil, false
}

// Session returns a snapshot of the rider's session.
func (r *Registry) Session(rider uuid.UUID) (Session, bool) {
	r.sessionsMu.RLock()
	sess, ok := r.sessions[rider]
	var snap Session
	if ok {
		snap = *sess
	}
	r.sessionsMu.RUnlock()
	if !ok {
		return Session{}, false
	}

	r.chargesMu.Lock()
	snap.Jumps = r.charges[rider]
	r.chargesMu.Unlock()
	snap.Sprinting = r.IsSprinting(rider)
	return snap, true
}

// Sessions returns snapshots of all active sessions.
func (r *Registry) Sessions() []Session {
	r.sessionsMu.RLock()
	ids := make([]uuid.UUID, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.sessionsMu.RUnlock()

	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		if sess, ok := r.Session(id); ok {
			out = append(out, sess)
		}
	}
	return out
}

// RiderCount returns the number of active sessions.
func (r *Registry) RiderCount() int {
	r.sessionsMu.RLock()
	defer r.sessionsMu.RUnlock()
	return len(r.sessions)
}

// ResetJumps refills the rider's air jumps to the configured maximum.
func (r *Registry) ResetJumps(rider uuid.UUID) {
	n := r.settings().ExtraJumps
	r.chargesMu.Lock()
	r.charges[rider] = n
	r.chargesMu.Unlock()
}

// UseJump consumes one air jump and reports whether one was available.
func (r *Registry) UseJump(rider uuid.UUID) bool {
	r.chargesMu.Lock()
	defer r.chargesMu.Unlock()

	if r.charges[rider] > 0 {
		r.charges[rider]--
		return true
	}
	return false
}

// HasJumpsRemaining reports whether the rider has at least one air jump left.
func (r *Registry) HasJumpsRemaining(rider uuid.UUID) bool {
	r.chargesMu.Lock()
	defer r.chargesMu.Unlock()
	return r.charges[rider] > 0
}

// CanJump returns true at most once per jump cooldown window per rider and
// records the attempt when it does.
func (r *Registry) CanJump(rider uuid.UUID) bool {
	return r.jumpCooldowns.try(rider, r.now(), r.settings().JumpCooldown)
}

// CanRamDamage returns true at most once per ram cooldown window per target,
// regardless of which mount rams it, and records the hit when it does.
func (r *Registry) CanRamDamage(target uuid.UUID) bool {
	return r.ramCooldowns.try(target, r.now(), r.settings().RamCooldown)
}

// UpdateSprintState feeds this tick's forward and sprint keys into the
// rider's gesture recogniser and returns whether the rider sprints.
//
// Sprint starts when the sprint key is held while moving forward, or when
// forward is pressed twice within the double-tap window. Releasing forward
// always stops it.
func (r *Registry) UpdateSprintState(rider uuid.UUID, forward, sprintKey bool) bool {
	now := r.now()
	window := r.settings().DoubleTapTime

	r.gesturesMu.Lock()
	defer r.gesturesMu.Unlock()

	g, ok := r.gestures[rider]
	if !ok {
		g = &sprintGesture{}
		r.gestures[rider] = g
	}

	switch {
	case sprintKey && forward:
		g.active = true
	case forward && !g.wasPressed:
		if g.pressedOnce && now.Sub(g.lastPress) <= window {
			g.active = true
		}
		g.lastPress = now
		g.pressedOnce = true
	}

	if !forward {
		g.active = false
	}
	g.wasPressed = forward

	return g.active
}

// IsSprinting reports the rider's sprint state as of the last update.
func (r *Registry) IsSprinting(rider uuid.UUID) bool {
	r.gesturesMu.Lock()
	defer r.gesturesMu.Unlock()
	g, ok := r.gestures[rider]
	return ok && g.active
}

// SetControlTask stores the control task of a mount. A task already stored
// for the mount is cancelled before it is replaced.
func (r *Registry) SetControlTask(mount uuid.UUID, task TaskHandle) {
	r.tasksMu.Lock()
	old := r.tasks[mount]
	r.tasks[mount] = task
	r.tasksMu.Unlock()

	if old != nil && old != task && !old.Cancelled() {
		old.Cancel()
	}
}

// CancelControlTask removes and cancels the control task of a mount.
func (r *Registry) CancelControlTask(mount uuid.UUID) {
	r.tasksMu.Lock()
	task := r.tasks[mount]
	delete(r.tasks, mount)
	r.tasksMu.Unlock()

	if task != nil && !task.Cancelled() {
		task.Cancel()
	}
}

// forgetControlTask removes the mount's task reference only if it is still
// task, so a stale loop never unregisters its replacement.
func (r *Registry) forgetControlTask(mount uuid.UUID, task TaskHandle) {
	r.tasksMu.Lock()
	if r.tasks[mount] == task {
		delete(r.tasks, mount)
	}
	r.tasksMu.Unlock()
}

// ControlTask returns the control task stored for the mount.
func (r *Registry) ControlTask(mount uuid.UUID) (TaskHandle, bool) {
	r.tasksMu.Lock()
	defer r.tasksMu.Unlock()
	task, ok := r.tasks[mount]
	return task, ok
}

// NeedsCleanup reports whether the mount still carries a protective modifier
// that has to be removed.
func (r *Registry) NeedsCleanup(mount uuid.UUID) bool {
	return r.cleanups.has(mount)
}

// PendingCleanups returns every mount awaiting modifier removal.
func (r *Registry) PendingCleanups() []uuid.UUID {
	return r.cleanups.keys()
}

// CleanupMount removes the protective modifier from a mount with a pending
// cleanup marker. It reports whether anything was pending.
func (r *Registry) CleanupMount(mount Mount) bool {
	if !r.cleanups.take(mount.UUID()) {
		return false
	}
	mount.RemoveModifier(SafeFallAttribute, SafeFallModifier)
	return true
}

// Idle reports whether nothing refers to the mount any more: no rider is
// bound to it, no cleanup is pending and no attach is scheduled.
func (r *Registry) Idle(mount uuid.UUID) bool {
	if _, bound := r.RiderOf(mount); bound {
		return false
	}
	return !r.cleanups.has(mount) && !r.attaching.has(mount)
}

func (r *Registry) reserve(mount uuid.UUID) {
	r.attaching.mark(mount, r.now())
}

func (r *Registry) unreserve(mount uuid.UUID) {
	r.attaching.forget(mount)
}

// CleanupCooldowns drops ram cooldown entries older than twice the ram
// cooldown window and cleanup markers of mounts that stayed unreachable.
func (r *Registry) CleanupCooldowns() {
	now := r.now()
	r.ramCooldowns.purge(now, 2*r.settings().RamCooldown)
	r.cleanups.purge(now, staleCleanupAge)
	r.attaching.purge(now, staleCleanupAge)
}

// DismountAll cancels every control task and clears all state. It returns
// the sessions that were active.
func (r *Registry) DismountAll() []Session {
	ended := r.Sessions()

	r.tasksMu.Lock()
	tasks := r.tasks
	r.tasks = make(map[uuid.UUID]TaskHandle)
	r.tasksMu.Unlock()

	for _, task := range tasks {
		if task != nil && !task.Cancelled() {
			task.Cancel()
		}
	}

	r.sessionsMu.Lock()
	clear(r.sessions)
	r.sessionsMu.Unlock()

	r.chargesMu.Lock()
	clear(r.charges)
	r.chargesMu.Unlock()

	r.gesturesMu.Lock()
	clear(r.gestures)
	r.gesturesMu.Unlock()

	r.jumpCooldowns.clear()
	r.ramCooldowns.clear()
	r.cleanups.clear()
	r.attaching.clear()

	return ended
}
