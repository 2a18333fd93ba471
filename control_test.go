package ride

import (
	"math"
	"testing"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tick = 50 * time.Millisecond

func assertVec(t *testing.T, want, got mgl64.Vec3) {
	t.Helper()
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-9, "component %d of %v", i, got)
	}
}

func TestMovement(t *testing.T) {
	t.Parallel()

	const speed = 0.25
	tests := []struct {
		name string
		yaw  float64
		in   Input
		want mgl64.Vec3
	}{
		{name: "idle", in: Input{}, want: mgl64.Vec3{}},
		{name: "forward", in: Input{Forward: true}, want: mgl64.Vec3{0, 0, 0.25}},
		{name: "backward", in: Input{Backward: true}, want: mgl64.Vec3{0, 0, -0.125}},
		{name: "left", in: Input{Left: true}, want: mgl64.Vec3{0.175, 0, 0}},
		{name: "right", in: Input{Right: true}, want: mgl64.Vec3{-0.175, 0, 0}},
		{name: "forward and backward", in: Input{Forward: true, Backward: true}, want: mgl64.Vec3{0, 0, 0.125}},
		{name: "facing west", yaw: 90, in: Input{Forward: true}, want: mgl64.Vec3{-0.25, 0, 0}},
		{name: "facing north", yaw: 180, in: Input{Forward: true}, want: mgl64.Vec3{0, 0, -0.25}},
		{name: "jump and sprint keys do not move", in: Input{Jump: true, Sprint: true}, want: mgl64.Vec3{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assertVec(t, tt.want, Movement(tt.yaw, tt.in, speed))
		})
	}
}

func TestMovementIsDeterministic(t *testing.T) {
	t.Parallel()

	in := Input{Forward: true, Left: true}
	first := Movement(37.5, in, 0.3)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Movement(37.5, in, 0.3))
	}
}

func TestMovementDiagonalIsNotNormalised(t *testing.T) {
	t.Parallel()

	v := Movement(0, Input{Forward: true, Right: true}, 0.25)
	assert.InDelta(t, math.Hypot(0.25, 0.175), v.Len(), 1e-9)
	assert.Greater(t, v.Len(), 0.25)
	assert.Zero(t, v[1])
}

func TestControlLoopMovesMount(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	r := h.world.addRider(newRider("steve"))
	m := h.world.addMount(newMount())
	m.vel = mgl64.Vec3{0, -0.08, 0}
	m.rot = cube.Rotation{0, 12}

	h.mount(r, m)
	_, ok := h.plugin.Registry().ControlTask(m.id)
	require.True(t, ok)

	r.rot = cube.Rotation{90, -30}
	r.input = Input{Forward: true}
	h.advance(tick)

	assert.Equal(t, cube.Rotation{90, 12}, m.rot, "only yaw follows the rider")
	assertVec(t, mgl64.Vec3{-0.25, -0.08, 0}, m.vel)
}

func TestControlLoopIdleKeepsVelocity(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	r := h.world.addRider(newRider("steve"))
	m := h.world.addMount(newMount())
	h.mount(r, m)

	m.vel = mgl64.Vec3{0.1, 0.2, 0.3}
	h.advance(tick)

	assertVec(t, mgl64.Vec3{0.1, 0.2, 0.3}, m.vel)
}

func TestControlLoopSprintMultipliesSpeed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(s *Settings) { s.SprintMultiplier = 2 })
	r := h.world.addRider(newRider("steve"))
	m := h.world.addMount(newMount())
	h.mount(r, m)

	r.input = Input{Forward: true, Sprint: true}
	h.advance(tick)

	assertVec(t, mgl64.Vec3{0, 0, 0.5}, m.vel)
	assert.True(t, h.plugin.Registry().IsSprinting(r.id))
}

func TestControlLoopDoubleTapSprint(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(s *Settings) { s.SprintMultiplier = 2 })
	r := h.world.addRider(newRider("steve"))
	m := h.world.addMount(newMount())
	h.mount(r, m)

	r.input = Input{Forward: true}
	h.advance(tick)
	assertVec(t, mgl64.Vec3{0, 0, 0.25}, m.vel)

	r.input = Input{}
	h.advance(tick)

	r.input = Input{Forward: true}
	h.advance(tick)
	assertVec(t, mgl64.Vec3{0, 0, 0.5}, m.vel)
}

func TestControlLoopGroundJump(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	r := h.world.addRider(newRider("steve"))
	m := h.world.addMount(newMount())
	h.mount(r, m)

	r.input = Input{Jump: true}
	h.advance(tick)

	assert.InDelta(t, 0.8, m.vel[1], 1e-9)
	sess, _ := h.plugin.Registry().Session(r.id)
	assert.Equal(t, 1, sess.Jumps, "ground jumps do not use charges")
}

func TestControlLoopAirJumpUsesCharges(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(s *Settings) { s.ExtraJumps = 1 })
	r := h.world.addRider(newRider("steve"))
	m := h.world.addMount(newMount())
	h.mount(r, m)

	m.onGround = false
	m.vel = mgl64.Vec3{0, -0.3, 0}
	r.input = Input{Jump: true}
	h.advance(tick)
	assert.InDelta(t, 0.8, m.vel[1], 1e-9)
	assert.False(t, h.plugin.Registry().HasJumpsRemaining(r.id))

	// Still inside the jump cooldown.
	m.vel = mgl64.Vec3{0, -0.3, 0}
	h.advance(tick)
	assert.InDelta(t, -0.3, m.vel[1], 1e-9)

	// Cooldown passed but no charges left.
	h.advance(4 * tick)
	assert.InDelta(t, -0.3, m.vel[1], 1e-9)

	// Landing refills the charges.
	m.onGround = true
	r.input = Input{}
	h.advance(tick)
	assert.True(t, h.plugin.Registry().HasJumpsRemaining(r.id))
}

func TestControlLoopAirJumpDisabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(s *Settings) { s.MultiJump = false })
	r := h.world.addRider(newRider("steve"))
	m := h.world.addMount(newMount())
	h.mount(r, m)

	m.onGround = false
	r.input = Input{Jump: true}
	h.advance(tick)

	assert.Zero(t, m.vel[1])
	assert.True(t, h.plugin.Registry().HasJumpsRemaining(r.id))
}

func TestControlLoopRam(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(s *Settings) { s.RamBlacklist = map[string]struct{}{"villager": {}} })
	r := h.world.addRider(newRider("steve"))
	m := h.world.addMount(newMount())
	r.pos = mgl64.Vec3{0, 0.9, 0}

	ahead := newLiving("minecraft:zombie", mgl64.Vec3{0, 0, 1})
	ahead.vel = mgl64.Vec3{0, 0.1, 0}
	behind := newLiving("minecraft:zombie", mgl64.Vec3{0, 0, -1})
	aside := newLiving("minecraft:zombie", mgl64.Vec3{1.2, 0, 0.2})
	far := newLiving("minecraft:zombie", mgl64.Vec3{0, 0, 3})
	immune := newLiving("minecraft:villager", mgl64.Vec3{0.2, 0, 1})
	item := &fakeEntity{id: uuid.New(), typ: "minecraft:item", valid: true, pos: mgl64.Vec3{0, 0, 1}}
	for _, e := range []Entity{ahead, behind, aside, far, immune, item} {
		h.world.add(e)
	}

	h.mount(r, m)
	r.input = Input{Forward: true}
	h.advance(tick)

	assert.Equal(t, 4.0, ahead.damage)
	require.Len(t, ahead.attackers, 1)
	assert.Equal(t, m.id, ahead.attackers[0].UUID(), "the mount is the attacker")
	assertVec(t, mgl64.Vec3{0, 0.4, 0.5}, ahead.vel)

	assert.Zero(t, behind.hits)
	assert.Zero(t, aside.hits)
	assert.Zero(t, far.hits)
	assert.Zero(t, immune.hits)
	assert.Zero(t, r.hits, "the rider is never rammed")
	assert.Zero(t, m.hits, "the mount never rams itself")

	// Same victim within the ram cooldown.
	h.advance(tick)
	assert.Equal(t, 1, ahead.hits)

	h.advance(500 * time.Millisecond)
	assert.Equal(t, 2, ahead.hits)
}

func TestControlLoopRamPushesAlongHeading(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	r := h.world.addRider(newRider("steve"))
	m := h.world.addMount(newMount())
	r.pos = mgl64.Vec3{0, 0.9, 0}

	offAxis := newLiving("minecraft:zombie", mgl64.Vec3{0.6, 0, 1})
	h.world.add(offAxis)

	h.mount(r, m)
	r.input = Input{Forward: true}
	h.advance(tick)

	require.Equal(t, 1, offAxis.hits)
	assertVec(t, mgl64.Vec3{0, 0.3, 0.5}, offAxis.vel)

	// Turned west, the same kind of hit pushes west.
	west := newLiving("minecraft:zombie", mgl64.Vec3{-1, 0, -0.5})
	h.world.add(west)
	r.rot = cube.Rotation{90, 0}
	h.advance(tick)

	require.Equal(t, 1, west.hits)
	assertVec(t, mgl64.Vec3{-0.5, 0.3, 0}, west.vel)
}

func TestControlLoopRamNeedsForwardInput(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	r := h.world.addRider(newRider("steve"))
	m := h.world.addMount(newMount())
	r.pos = mgl64.Vec3{0, 0.9, 0}

	victim := newLiving("minecraft:zombie", mgl64.Vec3{-1, 0, 0})
	h.world.add(victim)

	h.mount(r, m)
	r.input = Input{Right: true}
	h.advance(tick)

	assert.Zero(t, victim.hits)
	assertVec(t, mgl64.Vec3{-0.175, 0, 0}, m.vel)
}

func TestControlLoopRamDisabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(s *Settings) { s.RamEnabled = false })
	r := h.world.addRider(newRider("steve"))
	m := h.world.addMount(newMount())
	victim := newLiving("minecraft:zombie", mgl64.Vec3{0, 0, 1})
	h.world.add(victim)

	h.mount(r, m)
	r.input = Input{Forward: true}
	h.advance(tick)

	assert.Zero(t, victim.hits)
}

func TestControlLoopStopsWhenMountInvalid(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	r := h.world.addRider(newRider("steve"))
	m := h.world.addMount(newMount())
	h.mount(r, m)
	task, ok := h.plugin.Registry().ControlTask(m.id)
	require.True(t, ok)

	m.valid = false
	r.input = Input{Forward: true}
	h.advance(tick)

	assert.True(t, task.Cancelled())
	_, ok = h.plugin.Registry().ControlTask(m.id)
	assert.False(t, ok)
	assert.False(t, h.plugin.Registry().IsRiding(r.id))
	assert.False(t, r.hasSafeFall())
	assert.Zero(t, m.vel)
	assert.Equal(t, 1, h.world.released(m.id), "an invalid mount is released")
}

func TestControlLoopStopsWhenRiderLeftMount(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	r := h.world.addRider(newRider("steve"))
	m := h.world.addMount(newMount())
	h.mount(r, m)
	task, _ := h.plugin.Registry().ControlTask(m.id)

	m.RemovePassenger(r.id)
	h.advance(tick)

	assert.True(t, task.Cancelled())
	assert.False(t, h.plugin.Registry().IsRiding(r.id))
	assert.False(t, m.hasSafeFall(), "a reachable mount is cleaned up at once")
	assert.False(t, h.plugin.Registry().NeedsCleanup(m.id))
}

func TestControlLoopStopsWhenRiderOffline(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	r := h.world.addRider(newRider("steve"))
	m := h.world.addMount(newMount())
	h.mount(r, m)
	task, _ := h.plugin.Registry().ControlTask(m.id)

	r.online = false
	h.advance(tick)

	assert.True(t, task.Cancelled())
	_, ok := h.plugin.Registry().ControlTask(m.id)
	assert.False(t, ok)
}

func TestControlLoopRetiredWhenMountUnreachable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	r := h.world.addRider(newRider("steve"))
	m := h.world.addMount(newMount())
	h.mount(r, m)
	task, _ := h.plugin.Registry().ControlTask(m.id)

	h.world.setUnreachable(m.id)
	h.advance(tick)
	assert.True(t, task.Cancelled())
	_, ok := h.plugin.Registry().ControlTask(m.id)
	assert.False(t, ok)

	assert.Equal(t, 1, h.world.released(m.id), "an unreachable mount is released")

	// The session is ended on the rider's context.
	h.tick()
	assert.False(t, h.plugin.Registry().IsRiding(r.id))
	assert.True(t, h.plugin.Registry().NeedsCleanup(m.id))
}

func TestControllerStartReplacesLoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	r := h.world.addRider(newRider("steve"))
	m := h.world.addMount(newMount())
	h.mount(r, m)
	first, _ := h.plugin.Registry().ControlTask(m.id)

	second := h.plugin.Controller().Start(r.id, m.id)

	assert.True(t, first.Cancelled())
	assert.False(t, second.Cancelled())

	r.input = Input{Forward: true}
	h.advance(tick)
	assertVec(t, mgl64.Vec3{0, 0, 0.25}, m.vel)
}
