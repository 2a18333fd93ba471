package ride

import (
	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

// Entity is the part of a host entity the riding core reads and moves.
// Implementations are only valid inside the Tx they were resolved from.
type Entity interface {
	// UUID returns the persistent identity of the entity.
	UUID() uuid.UUID
	// Type returns the entity type name, e.g. "minecraft:goat".
	Type() string
	// Valid reports whether the entity is still present in the world.
	Valid() bool
	Position() mgl64.Vec3
	Velocity() mgl64.Vec3
	SetVelocity(v mgl64.Vec3)
}

// Living is an entity that can take damage and carry attribute modifiers.
type Living interface {
	Entity

	// Hurt deals damage to the entity. attacker may be nil.
	Hurt(damage float64, attacker Entity)

	// AddModifier adds or replaces the modifier identified by key on the named
	// attribute. It returns false if the entity does not have the attribute.
	AddModifier(attribute, key string, amount float64) bool

	// RemoveModifier removes the modifier identified by key from the named
	// attribute. It returns false if the entity does not have the attribute.
	RemoveModifier(attribute, key string) bool
}

// Mount is a living entity a rider can sit on and steer.
type Mount interface {
	Living

	Rotation() cube.Rotation
	SetRotation(rot cube.Rotation)
	OnGround() bool

	// Passengers returns the identities of the entities riding the mount.
	Passengers() []uuid.UUID
	// AddPassenger seats r on the mount. It returns false if the host refused.
	AddPassenger(r Rider) bool
	// RemovePassenger detaches the passenger with the given identity, if seated.
	RemovePassenger(id uuid.UUID)
}

// Rider is a connected player that can mount and steer a Mount.
type Rider interface {
	Living

	Name() string
	Online() bool
	Rotation() cube.Rotation

	// Input returns the directional input the player holds this tick.
	Input() Input

	// HeldItems returns the item names held in the main and off hand. Empty
	// hands are returned as "".
	HeldItems() (mainHand, offHand string)

	HasPermission(perm string) bool
	Message(msg string)
}

// Input is a snapshot of a player's movement keys for a single tick.
type Input struct {
	Forward  bool
	Backward bool
	Left     bool
	Right    bool
	Jump     bool
	Sprint   bool
}

// Tx gives access to host entities from inside the scheduling context that
// owns them. A Tx must not be retained after the function it was passed to
// returns.
type Tx interface {
	// Rider resolves a connected player. It returns false if the player is
	// offline or not reachable from this context.
	Rider(id uuid.UUID) (Rider, bool)
	// Mount resolves a mount entity. It returns false if the entity is gone,
	// is not rideable or is not reachable from this context.
	Mount(id uuid.UUID) (Mount, bool)
	// EntitiesWithin returns all entities whose position lies within box.
	EntitiesWithin(box cube.BBox) []Entity
}

// Executor runs functions on the scheduling context that owns an entity.
// Hosts that shard entity processing across threads implement this by
// forwarding fn to the owning shard.
type Executor interface {
	// Exec runs fn with a Tx of the context owning the entity. It reports
	// false, without calling fn, if the owner cannot be reached.
	Exec(owner uuid.UUID, fn func(tx Tx)) bool
}

// Releaser is implemented by executors that keep state per entity. Release is
// called once the core no longer needs to reach a mount, which is the case
// when it has no rider, no pending attach and no pending cleanup, or when it
// became unreachable.
type Releaser interface {
	Release(id uuid.UUID)
}
