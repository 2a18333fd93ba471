package ride

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Coordinator starts and ends riding sessions in response to host events.
type Coordinator struct {
	config     *Config
	registry   *Registry
	scheduler  *Scheduler
	controller *Controller
	log        *slog.Logger
}

// NewCoordinator creates a coordinator. log may be nil.
func NewCoordinator(config *Config, registry *Registry, scheduler *Scheduler, controller *Controller, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		config:     config,
		registry:   registry,
		scheduler:  scheduler,
		controller: controller,
		log:        log,
	}
}

// Dispatch routes an event to its handler. It returns an error for event
// types the coordinator does not handle.
func (c *Coordinator) Dispatch(event any) error {
	switch e := event.(type) {
	case *EventInteract:
		c.HandleInteract(e)
	case *EventDismount:
		c.HandleDismount(e)
	case *EventQuit:
		c.HandleQuit(e)
	case *EventAttack:
		c.HandleAttack(e)
	default:
		return fmt.Errorf("ride: unhandled event type %T", event)
	}
	return nil
}

// HandleInteract mounts the rider on the target if the target is a free
// mount and the rider may ride it. On success the event is cancelled and the
// rider is seated on the mount's own context.
func (c *Coordinator) HandleInteract(e *EventInteract) {
	if e.Hand != HandMain || e.Rider == nil {
		return
	}
	target, ok := e.Target.(Mount)
	if !ok {
		return
	}

	s := c.config.Settings()
	r := e.Rider

	if !r.HasPermission(PermissionUse) {
		r.Message(s.Format(s.Messages.NoPermission))
		return
	}
	if len(target.Passengers()) != 0 {
		return
	}
	if s.RequireSaddle && !s.HoldsSaddle(r.HeldItems()) {
		r.Message(s.Format(s.Messages.SaddleRequired))
		return
	}

	e.Cancel()

	riderID, mountID := r.UUID(), target.UUID()
	c.registry.reserve(mountID)
	c.scheduler.Run(mountID, func(tx Tx) {
		c.registry.unreserve(mountID)
		if !c.attach(tx, riderID, mountID) {
			releaseIfIdle(c.registry, c.scheduler, mountID)
		}
	}, func() {
		c.log.Debug("ride: mount became unreachable before attach", "mount", mountID)
		c.registry.unreserve(mountID)
		c.scheduler.Release(mountID)
	})
}

// attach seats the rider and starts its session. It runs on the mount's
// context and reports whether the rider was seated.
func (c *Coordinator) attach(tx Tx, riderID, mountID uuid.UUID) bool {
	m, ok := tx.Mount(mountID)
	if !ok || !m.Valid() {
		return false
	}
	r, ok := tx.Rider(riderID)
	if !ok || !r.Online() {
		return false
	}
	if len(m.Passengers()) != 0 {
		return false
	}

	c.registry.CleanupMount(m)
	if !m.AddPassenger(r) {
		return false
	}
	c.registry.StartSession(r, m)
	c.controller.Start(riderID, mountID)

	s := c.config.Settings()
	r.Message(s.Format(s.Messages.MountSuccess))
	return true
}

// HandleDismount ends the session of a rider the host detached from its mount.
func (c *Coordinator) HandleDismount(e *EventDismount) {
	if e.Rider == nil || e.Mount == nil {
		return
	}
	bound, ok := c.registry.MountOf(e.Rider.UUID())
	if !ok || bound != e.Mount.UUID() {
		return
	}
	c.registry.EndSession(e.Rider)

	s := c.config.Settings()
	e.Rider.Message(s.Format(s.Messages.DismountSuccess))
}

// HandleQuit ends the session of a disconnecting rider.
func (c *Coordinator) HandleQuit(e *EventQuit) {
	if e.Rider == nil || !c.registry.IsRiding(e.Rider.UUID()) {
		return
	}
	c.registry.EndSession(e.Rider)
}

// HandleAttack stops riders from hitting the mount they are sitting on.
func (c *Coordinator) HandleAttack(e *EventAttack) {
	if e.Rider == nil || e.Target == nil {
		return
	}
	if bound, ok := c.registry.MountOf(e.Rider.UUID()); ok && bound == e.Target.UUID() {
		e.Cancel()
	}
}

// Dismount takes the rider off its mount on the rider's request. It reports
// whether the rider was riding.
func (c *Coordinator) Dismount(r Rider) bool {
	riderID := r.UUID()
	mountID, ok := c.registry.MountOf(riderID)
	if !ok {
		return false
	}
	c.registry.EndSession(r)

	c.scheduler.Run(mountID, func(tx Tx) {
		m, ok := tx.Mount(mountID)
		if !ok {
			c.scheduler.Release(mountID)
			return
		}
		m.RemovePassenger(riderID)
		c.registry.CleanupMount(m)
		releaseIfIdle(c.registry, c.scheduler, mountID)
	}, nil)

	s := c.config.Settings()
	r.Message(s.Format(s.Messages.DismountSuccess))
	return true
}
