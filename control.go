package ride

import (
	"log/slog"
	"math"
	"slices"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
)

const (
	backwardFactor = 0.5
	strafeFactor   = 0.7

	// minMovementSq is the squared horizontal speed below which a tick is
	// treated as standing still.
	minMovementSq = 0.001

	ramReachXZ = 1.5
	ramReachY  = 1.0
	// ramCone is the minimum cosine between movement and victim direction,
	// about 60 degrees either side of straight ahead.
	ramCone = 0.5

	ramKnockback       = 0.5
	ramKnockbackUpward = 0.3
)

// Controller drives ridden mounts. It runs one fixed-rate task per mount that
// turns rider input into mount movement, jumps and rams.
type Controller struct {
	config    *Config
	registry  *Registry
	scheduler *Scheduler
	log       *slog.Logger
}

// NewController creates a controller. log may be nil.
func NewController(config *Config, registry *Registry, scheduler *Scheduler, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		config:    config,
		registry:  registry,
		scheduler: scheduler,
		log:       log,
	}
}

// Start installs the control loop of mount for rider, replacing and
// cancelling any loop already running for the mount.
func (c *Controller) Start(rider, mount uuid.UUID) *Task {
	interval := c.config.Settings().TickInterval

	task := c.scheduler.RunAtFixedRate(mount,
		func(t *Task, tx Tx) { c.tick(t, tx, rider, mount) },
		func(t *Task) { c.retired(t, rider, mount) },
		interval, interval)

	c.registry.SetControlTask(mount, task)
	return task
}

// Restart reinstalls every running control loop so that each picks up the
// current tick interval.
func (c *Controller) Restart() {
	for _, sess := range c.registry.Sessions() {
		if task, ok := c.registry.ControlTask(sess.Mount); ok && !task.Cancelled() {
			c.Start(sess.Rider, sess.Mount)
		}
	}
}

// retired handles a mount that became unreachable: the loop and the mount
// are forgotten and the rider's session is ended from the rider's own context.
func (c *Controller) retired(task *Task, rider, mount uuid.UUID) {
	c.registry.forgetControlTask(mount, task)
	c.scheduler.Release(mount)
	c.scheduler.Run(rider, func(tx Tx) {
		r, ok := tx.Rider(rider)
		if !ok {
			return
		}
		if bound, ok := c.registry.MountOf(rider); ok && bound == mount {
			c.registry.EndSession(r)
		}
	}, nil)
}

// stop cancels the loop, drops the session it was driving and cleans the
// mount up. A mount that is gone is released at once.
func (c *Controller) stop(t *Task, tx Tx, rider, mount uuid.UUID) {
	t.Cancel()
	c.registry.forgetControlTask(mount, t)

	if bound, ok := c.registry.MountOf(rider); ok && bound == mount {
		if r, ok := tx.Rider(rider); ok {
			c.registry.EndSession(r)
		}
	}

	m, ok := tx.Mount(mount)
	if !ok || !m.Valid() {
		c.scheduler.Release(mount)
		return
	}
	c.registry.CleanupMount(m)
	releaseIfIdle(c.registry, c.scheduler, mount)
}

// releaseIfIdle releases a mount nothing refers to any more.
func releaseIfIdle(reg *Registry, s *Scheduler, mount uuid.UUID) {
	if reg.Idle(mount) {
		s.Release(mount)
	}
}

func (c *Controller) tick(t *Task, tx Tx, riderID, mountID uuid.UUID) {
	m, ok := tx.Mount(mountID)
	if !ok || !m.Valid() {
		c.stop(t, tx, riderID, mountID)
		return
	}
	r, ok := tx.Rider(riderID)
	if !ok || !r.Online() || !slices.Contains(m.Passengers(), riderID) {
		c.stop(t, tx, riderID, mountID)
		return
	}

	s := c.config.Settings()

	m.SetRotation(cube.Rotation{r.Rotation().Yaw(), m.Rotation().Pitch()})

	in := r.Input()
	speed := s.Speed
	if c.registry.UpdateSprintState(riderID, in.Forward, in.Sprint) {
		speed *= s.SprintMultiplier
	}
	movement := Movement(r.Rotation().Yaw(), in, speed)

	if in.Jump && c.registry.CanJump(riderID) {
		if m.OnGround() || (s.MultiJump && c.registry.UseJump(riderID)) {
			vel := m.Velocity()
			vel[1] = s.JumpStrength
			m.SetVelocity(vel)
		}
	}

	if m.OnGround() {
		c.registry.ResetJumps(riderID)
	}

	if movement.LenSqr() <= minMovementSq {
		return
	}
	if s.RamEnabled && in.Forward {
		c.ram(tx, s, r, m, movement)
	}
	movement[1] = m.Velocity()[1]
	m.SetVelocity(movement)
}

// ram damages living entities in front of a moving mount and pushes them
// along the mount's heading.
func (c *Controller) ram(tx Tx, s *Settings, r Rider, m Mount, movement mgl64.Vec3) {
	pos := m.Position()
	box := cube.Box(
		pos[0]-ramReachXZ, pos[1]-ramReachY, pos[2]-ramReachXZ,
		pos[0]+ramReachXZ, pos[1]+ramReachY, pos[2]+ramReachXZ,
	)
	heading := horizontal(movement)
	if heading == (mgl64.Vec3{}) {
		return
	}

	for _, e := range tx.EntitiesWithin(box) {
		id := e.UUID()
		if id == r.UUID() || id == m.UUID() {
			continue
		}
		victim, ok := e.(Living)
		if !ok || s.RamBlacklisted(e.Type()) {
			continue
		}

		dir := horizontal(victim.Position().Sub(pos))
		if dir == (mgl64.Vec3{}) || dir.Dot(heading) <= ramCone {
			continue
		}
		if !c.registry.CanRamDamage(id) {
			continue
		}

		victim.Hurt(s.RamDamage, m)
		knock := heading.Mul(ramKnockback)
		knock[1] = ramKnockbackUpward
		victim.SetVelocity(victim.Velocity().Add(knock))
	}
}

// Movement returns the horizontal velocity for one tick of input while
// looking along yaw (degrees). speed already includes any sprint multiplier.
// Forward and strafe inputs add up, so diagonal movement is faster than
// moving along a single axis.
func Movement(yaw float64, in Input, speed float64) mgl64.Vec3 {
	rad := mgl64.DegToRad(yaw)
	look := mgl64.Vec3{-math.Sin(rad), 0, math.Cos(rad)}
	right := look.Cross(mgl64.Vec3{0, 1, 0})

	var v mgl64.Vec3
	if in.Forward {
		v = v.Add(look.Mul(speed))
	}
	if in.Backward {
		v = v.Add(look.Mul(-backwardFactor * speed))
	}
	if in.Left {
		v = v.Add(right.Mul(-strafeFactor * speed))
	}
	if in.Right {
		v = v.Add(right.Mul(strafeFactor * speed))
	}
	return v
}

// horizontal drops the vertical component of v and normalises the rest. It
// returns the zero vector if nothing is left.
func horizontal(v mgl64.Vec3) mgl64.Vec3 {
	v[1] = 0
	if v.LenSqr() < 1e-12 {
		return mgl64.Vec3{}
	}
	return v.Normalize()
}
