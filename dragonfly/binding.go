// Package dragonfly binds the riding core to Dragonfly servers.
//
// Usage:
//
//	b := dragonfly.New(dragonfly.NewAdmins("Steve"))
//	b.Inputs().WrapListeners(&conf)
//	srv := conf.New()
//
//	plugin, err := ride.NewBuilder().
//	    Config("config/ride.toml").
//	    Executor(b.Entities()).
//	    Init()
//	if err != nil {
//	    return err
//	}
//	b.Attach(plugin)
//	defer plugin.Shutdown()
//
//	for p := range srv.Accept() {
//	    b.Accept(p)
//	}
//
// Servers with their own rideable entity types implement Mob and call
// Entities.Track when spawning them. Players are rideable out of the box.
// Mobs are forgotten once no ride needs them and tracked again on the next
// interaction.
package dragonfly

import (
	"github.com/df-mc/dragonfly/server/player"
	"github.com/oriumgames/ride"
)

// Binding connects a ride.Plugin to a Dragonfly server.
type Binding struct {
	inputs *Inputs
	ents   *Entities
	perms  Permissions
	plugin *ride.Plugin
}

// New creates a binding. perms may be nil to allow everything.
func New(perms Permissions) *Binding {
	if perms == nil {
		perms = AllowAll{}
	}
	inputs := NewInputs()
	return &Binding{
		inputs: inputs,
		ents:   NewEntities(inputs, perms),
		perms:  perms,
	}
}

// Inputs returns the input table fed by wrapped listeners.
func (b *Binding) Inputs() *Inputs { return b.inputs }

// Entities returns the entity table, which is the plugin's ride.Executor.
func (b *Binding) Entities() *Entities { return b.ents }

// Attach connects an initialised plugin and registers the /ride command.
func (b *Binding) Attach(p *ride.Plugin) {
	b.plugin = p
	registerCommand(b)
}

// Accept tracks a joining player and installs the riding handler.
func (b *Binding) Accept(p *player.Player) {
	b.ents.trackPlayer(p.H())
	p.Handle(&Handler{binding: b})
}

func (b *Binding) forget(p *player.Player) {
	b.ents.Forget(p.UUID())
	b.inputs.Forget(p.UUID())
}
