package dragonfly

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/google/uuid"
	"github.com/oriumgames/ride"
)

// Entities maps entity identities to Dragonfly entity handles and keeps the
// riding state Dragonfly has no notion of: passenger seats and attribute
// modifiers. It implements ride.Executor by running functions in the world
// transaction of the entity's current world.
//
// Players stay tracked until they quit. Other entities are tracked while the
// riding core needs them and are forgotten once it releases them or they can
// no longer be reached.
type Entities struct {
	inputs *Inputs
	perms  Permissions

	// handles maps entity identity to its handle
	handles map[uuid.UUID]*world.EntityHandle
	// players holds the handles that belong to connected players
	players   map[uuid.UUID]struct{}
	handlesMu sync.RWMutex

	// timeout bounds how long Exec waits for the entity's world
	timeout   time.Duration
	execWorld func(h *world.EntityHandle, f func(*world.Tx, world.Entity)) bool

	// seats maps a mount to the rider sitting on it
	seats   map[uuid.UUID]uuid.UUID
	seatsMu sync.RWMutex

	// modifiers maps entity identity to attribute and modifier key
	modifiers   map[uuid.UUID]map[modifierKey]float64
	modifiersMu sync.RWMutex
}

type modifierKey struct {
	attribute string
	key       string
}

// execTimeout is how long Exec waits for a world to accept a transaction.
// Handles of entities removed from their world without being closed never
// become reachable again.
const execTimeout = time.Second

const (
	execPending int32 = iota
	execRunning
	execAbandoned
)

// NewEntities creates an empty entity table.
func NewEntities(inputs *Inputs, perms Permissions) *Entities {
	if inputs == nil {
		inputs = NewInputs()
	}
	if perms == nil {
		perms = AllowAll{}
	}
	return &Entities{
		inputs:    inputs,
		perms:     perms,
		handles:   make(map[uuid.UUID]*world.EntityHandle),
		players:   make(map[uuid.UUID]struct{}),
		timeout:   execTimeout,
		execWorld: (*world.EntityHandle).ExecWorld,
		seats:     make(map[uuid.UUID]uuid.UUID),
		modifiers: make(map[uuid.UUID]map[modifierKey]float64),
	}
}

// Track makes an entity reachable by its identity.
func (e *Entities) Track(h *world.EntityHandle) {
	e.trackID(h.UUID(), h, false)
}

func (e *Entities) trackPlayer(h *world.EntityHandle) {
	e.trackID(h.UUID(), h, true)
}

func (e *Entities) trackID(id uuid.UUID, h *world.EntityHandle, player bool) {
	e.handlesMu.Lock()
	e.handles[id] = h
	if player {
		e.players[id] = struct{}{}
	}
	e.handlesMu.Unlock()
}

// trackNew tracks an entity unless it already is and reports whether it was
// added.
func (e *Entities) trackNew(h *world.EntityHandle) bool {
	id := h.UUID()
	e.handlesMu.Lock()
	defer e.handlesMu.Unlock()
	if _, ok := e.handles[id]; ok {
		return false
	}
	e.handles[id] = h
	return true
}

// Release forgets an entity the riding core no longer needs. Players stay
// tracked until they quit.
func (e *Entities) Release(id uuid.UUID) {
	e.handlesMu.RLock()
	_, player := e.players[id]
	e.handlesMu.RUnlock()
	if !player {
		e.Forget(id)
	}
}

// Forget drops an entity and every seat and modifier referencing it.
func (e *Entities) Forget(id uuid.UUID) {
	e.handlesMu.Lock()
	delete(e.handles, id)
	delete(e.players, id)
	e.handlesMu.Unlock()

	e.seatsMu.Lock()
	delete(e.seats, id)
	for mount, rider := range e.seats {
		if rider == id {
			delete(e.seats, mount)
		}
	}
	e.seatsMu.Unlock()

	e.modifiersMu.Lock()
	delete(e.modifiers, id)
	e.modifiersMu.Unlock()
}

// Handle returns the handle of a tracked entity.
func (e *Entities) Handle(id uuid.UUID) (*world.EntityHandle, bool) {
	e.handlesMu.RLock()
	defer e.handlesMu.RUnlock()
	h, ok := e.handles[id]
	return h, ok
}

// Exec runs fn in the transaction of the world the entity is in. It gives up
// when the handle is closed or its world does not accept the transaction
// within the timeout; fn never runs after Exec returned false. Entities that
// are not players are forgotten in both cases.
func (e *Entities) Exec(owner uuid.UUID, fn func(tx ride.Tx)) bool {
	h, ok := e.Handle(owner)
	if !ok {
		return false
	}

	var state atomic.Int32
	done := make(chan bool, 1)
	go func() {
		done <- e.execWorld(h, func(tx *world.Tx, _ world.Entity) {
			if state.CompareAndSwap(execPending, execRunning) {
				fn(&worldTx{tx: tx, ents: e})
			}
		})
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case ok = <-done:
	case <-timer.C:
		if state.CompareAndSwap(execPending, execAbandoned) {
			ok = false
			break
		}
		// fn is already running.
		ok = <-done
	}
	if !ok {
		e.unreachable(owner, h)
	}
	return ok
}

// unreachable forgets an entity that is not a player, unless it was tracked
// again with another handle in the meantime.
func (e *Entities) unreachable(id uuid.UUID, h *world.EntityHandle) {
	e.handlesMu.RLock()
	current, tracked := e.handles[id]
	_, player := e.players[id]
	e.handlesMu.RUnlock()
	if tracked && current == h && !player {
		e.Forget(id)
	}
}

// Tx wraps a Dragonfly transaction for use by the riding core.
func (e *Entities) Tx(tx *world.Tx) ride.Tx {
	return &worldTx{tx: tx, ents: e}
}

// Rider wraps a player for use by the riding core.
func (e *Entities) Rider(p *player.Player) ride.Rider {
	return &rider{living: living{base: base{e: p, ents: e}, h: p}, p: p}
}

// Passenger returns the rider seated on a mount.
func (e *Entities) Passenger(mount uuid.UUID) (uuid.UUID, bool) {
	e.seatsMu.RLock()
	defer e.seatsMu.RUnlock()
	id, ok := e.seats[mount]
	return id, ok
}

func (e *Entities) seat(mount, rider uuid.UUID) bool {
	e.seatsMu.Lock()
	defer e.seatsMu.Unlock()
	if _, taken := e.seats[mount]; taken {
		return false
	}
	e.seats[mount] = rider
	return true
}

func (e *Entities) unseat(mount, rider uuid.UUID) {
	e.seatsMu.Lock()
	if e.seats[mount] == rider {
		delete(e.seats, mount)
	}
	e.seatsMu.Unlock()
}

// FallProtection returns the total safe fall distance added to an entity by
// modifiers. Mob implementations use it to reduce their own fall damage.
func (e *Entities) FallProtection(id uuid.UUID) float64 {
	e.modifiersMu.RLock()
	defer e.modifiersMu.RUnlock()

	total := 0.0
	for k, amount := range e.modifiers[id] {
		if k.attribute == ride.SafeFallAttribute {
			total += amount
		}
	}
	return total
}

func (e *Entities) addModifier(id uuid.UUID, attribute, key string, amount float64) bool {
	if attribute != ride.SafeFallAttribute {
		return false
	}
	e.modifiersMu.Lock()
	defer e.modifiersMu.Unlock()

	mods, ok := e.modifiers[id]
	if !ok {
		mods = make(map[modifierKey]float64)
		e.modifiers[id] = mods
	}
	mods[modifierKey{attribute, key}] = amount
	return true
}

func (e *Entities) removeModifier(id uuid.UUID, attribute, key string) bool {
	if attribute != ride.SafeFallAttribute {
		return false
	}
	e.modifiersMu.Lock()
	defer e.modifiersMu.Unlock()

	if mods, ok := e.modifiers[id]; ok {
		delete(mods, modifierKey{attribute, key})
		if len(mods) == 0 {
			delete(e.modifiers, id)
		}
	}
	return true
}

// worldTx implements ride.Tx on top of a Dragonfly transaction.
type worldTx struct {
	tx   *world.Tx
	ents *Entities
}

func (t *worldTx) entity(id uuid.UUID) (world.Entity, bool) {
	h, ok := t.ents.Handle(id)
	if !ok {
		return nil, false
	}
	return h.Entity(t.tx)
}

func (t *worldTx) Rider(id uuid.UUID) (ride.Rider, bool) {
	e, ok := t.entity(id)
	if !ok {
		return nil, false
	}
	p, ok := e.(*player.Player)
	if !ok {
		return nil, false
	}
	return t.ents.Rider(p), true
}

func (t *worldTx) Mount(id uuid.UUID) (ride.Mount, bool) {
	e, ok := t.entity(id)
	if !ok {
		return nil, false
	}
	m, ok := e.(Mob)
	if !ok {
		return nil, false
	}
	return t.ents.mount(t.tx, m), true
}

func (t *worldTx) EntitiesWithin(box cube.BBox) []ride.Entity {
	var out []ride.Entity
	for e := range t.tx.EntitiesWithin(box) {
		out = append(out, t.ents.wrap(e))
	}
	return out
}
