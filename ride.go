// Package ride lets players ride and steer mounts with first-person control.
//
// Riding replaces idle passenger behaviour with active movement: WASD steers
// the mount along the rider's look direction, jump makes it leap (with extra
// air jumps), double-tapping forward or holding sprint speeds it up, and a
// moving mount rams living entities in front of it.
//
// # Quick Start
//
// The package is host-agnostic. A host provides an Executor that runs code on
// the context owning an entity, and forwards its events to the Coordinator:
//
//	plugin, err := ride.NewBuilder().
//	    Config("plugins/ride/config.toml").
//	    Executor(entities).
//	    Logger(log).
//	    Init()
//	if err != nil {
//	    return err
//	}
//	defer plugin.Shutdown()
//
//	plugin.Coordinator().HandleInteract(&ride.EventInteract{Rider: r, Target: e})
//
// The dragonfly subpackage is a complete binding for Dragonfly servers.
//
// # Concurrency
//
// Every mount is steered by its own fixed-rate task on the Scheduler, which
// shards tasks by entity identity so work for one entity never runs
// concurrently. Registry state is safe for use from tasks, event handlers and
// shutdown hooks at the same time.
package ride

// Version is the ride version.
const Version = "1.2.0"

const (
	// PermissionUse allows mounting.
	PermissionUse = "ride.use"
	// PermissionAdmin allows reloading the configuration.
	PermissionAdmin = "ride.admin"
)
