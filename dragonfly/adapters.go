package dragonfly

import (
	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/entity"
	"github.com/df-mc/dragonfly/server/item"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/oriumgames/ride"
)

// seatOffset is where a rider sits relative to the position of its mount.
var seatOffset = mgl64.Vec3{0, 0.9, 0}

// Mob is an entity that can be ridden. Dragonfly ships no rideable mobs, so
// servers provide their own entity types; *player.Player satisfies Mob too.
type Mob interface {
	world.Entity
	Velocity() mgl64.Vec3
	SetVelocity(v mgl64.Vec3)
	OnGround() bool
	Move(deltaPos mgl64.Vec3, deltaYaw, deltaPitch float64)
	Hurt(damage float64, src world.DamageSource) (float64, bool)
}

var _ Mob = (*player.Player)(nil)

// RamDamageSource is the damage source of a mount ramming an entity.
type RamDamageSource struct {
	entity.AttackDamageSource
}

type hurtable interface {
	Hurt(damage float64, src world.DamageSource) (float64, bool)
}

type mover interface {
	Velocity() mgl64.Vec3
	SetVelocity(v mgl64.Vec3)
}

type mortal interface {
	Dead() bool
}

// base adapts any world.Entity to ride.Entity.
type base struct {
	e    world.Entity
	ents *Entities
}

func (b base) UUID() uuid.UUID { return b.e.H().UUID() }

func (b base) Type() string { return b.e.H().Type().EncodeEntity() }

func (b base) Valid() bool {
	if m, ok := b.e.(mortal); ok {
		return !m.Dead()
	}
	return true
}

func (b base) Position() mgl64.Vec3 { return b.e.Position() }

func (b base) Velocity() mgl64.Vec3 {
	if m, ok := b.e.(mover); ok {
		return m.Velocity()
	}
	return mgl64.Vec3{}
}

func (b base) SetVelocity(v mgl64.Vec3) {
	if m, ok := b.e.(mover); ok {
		m.SetVelocity(v)
	}
}

func (b base) entity() world.Entity { return b.e }

// living adapts an entity that can be hurt to ride.Living.
type living struct {
	base
	h hurtable
}

func (l living) Hurt(damage float64, attacker ride.Entity) {
	src := RamDamageSource{}
	if a, ok := attacker.(interface{ entity() world.Entity }); ok {
		src.Attacker = a.entity()
	}
	l.h.Hurt(damage, src)
}

func (l living) AddModifier(attribute, key string, amount float64) bool {
	return l.ents.addModifier(l.UUID(), attribute, key, amount)
}

func (l living) RemoveModifier(attribute, key string) bool {
	return l.ents.removeModifier(l.UUID(), attribute, key)
}

// rider adapts a player to ride.Rider.
type rider struct {
	living
	p *player.Player
}

func (r *rider) Name() string { return r.p.Name() }

// Online is always true: a rider is only resolved while the player is in
// the transaction's world.
func (r *rider) Online() bool { return true }

// Rotation prefers the look direction the client last reported, since the
// position of a rider is owned by its mount.
func (r *rider) Rotation() cube.Rotation {
	if _, rot, ok := r.ents.inputs.Input(r.p.UUID()); ok {
		return rot
	}
	return r.p.Rotation()
}

func (r *rider) Input() ride.Input {
	in, _, _ := r.ents.inputs.Input(r.p.UUID())
	return in
}

func (r *rider) HeldItems() (mainHand, offHand string) {
	main, off := r.p.HeldItems()
	return itemName(main), itemName(off)
}

func (r *rider) HasPermission(perm string) bool { return r.ents.perms.HasPermission(r.p, perm) }

func (r *rider) Message(msg string) { r.p.Message(msg) }

func itemName(s item.Stack) string {
	if s.Empty() {
		return ""
	}
	name, _ := s.Item().EncodeItem()
	return name
}

// mount adapts a Mob to ride.Mount. Seats are kept in Entities and riders
// are teleported onto their mount whenever it moves.
type mount struct {
	living
	m  Mob
	tx *world.Tx
}

func (e *Entities) mount(tx *world.Tx, m Mob) *mount {
	return &mount{living: living{base: base{e: m, ents: e}, h: m}, m: m, tx: tx}
}

// wrap adapts an entity found in the world to the most specific ride type.
func (e *Entities) wrap(ent world.Entity) ride.Entity {
	if p, ok := ent.(*player.Player); ok {
		return e.Rider(p)
	}
	if h, ok := ent.(hurtable); ok {
		return living{base: base{e: ent, ents: e}, h: h}
	}
	return base{e: ent, ents: e}
}

func (m *mount) Rotation() cube.Rotation { return m.m.Rotation() }

func (m *mount) SetRotation(rot cube.Rotation) {
	cur := m.m.Rotation()
	m.m.Move(mgl64.Vec3{}, rot.Yaw()-cur.Yaw(), rot.Pitch()-cur.Pitch())
}

func (m *mount) OnGround() bool { return m.m.OnGround() }

func (m *mount) Passengers() []uuid.UUID {
	if id, ok := m.ents.Passenger(m.UUID()); ok {
		return []uuid.UUID{id}
	}
	return nil
}

func (m *mount) AddPassenger(r ride.Rider) bool {
	if !m.ents.seat(m.UUID(), r.UUID()) {
		return false
	}
	m.follow()
	return true
}

func (m *mount) RemovePassenger(id uuid.UUID) {
	m.ents.unseat(m.UUID(), id)
}

func (m *mount) SetVelocity(v mgl64.Vec3) {
	m.m.SetVelocity(v)
	m.follow()
}

// follow moves the seated rider onto the mount.
func (m *mount) follow() {
	id, ok := m.ents.Passenger(m.UUID())
	if !ok {
		return
	}
	h, ok := m.ents.Handle(id)
	if !ok {
		return
	}
	ent, ok := h.Entity(m.tx)
	if !ok {
		return
	}
	if p, ok := ent.(*player.Player); ok {
		p.Teleport(m.m.Position().Add(seatOffset))
	}
}

// wrapTarget adapts the target of an interaction. Rideable targets become
// mounts and are tracked so the scheduler can reach them; fresh reports
// whether the target was not tracked before.
func (e *Entities) wrapTarget(tx *world.Tx, ent world.Entity) (target ride.Entity, fresh bool) {
	if m, ok := ent.(Mob); ok {
		fresh = e.trackNew(ent.H())
		return e.mount(tx, m), fresh
	}
	return e.wrap(ent), false
}
