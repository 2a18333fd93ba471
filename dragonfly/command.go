package dragonfly

import (
	"sync/atomic"

	"github.com/df-mc/dragonfly/server/cmd"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/oriumgames/ride"
)

// active is the binding the /ride command serves. Dragonfly keeps commands in
// a process-wide registry, so the command does too.
var active atomic.Pointer[Binding]

// subcommand is the enum argument of /ride.
type subcommand string

func (subcommand) Type() string { return "RideSubcommand" }

// Options returns the subcommands the source may run.
func (subcommand) Options(src cmd.Source) []string {
	b := active.Load()
	if b == nil {
		return ride.Subcommands
	}
	return b.plugin.Commands().Complete(b.sender(src, nil), nil)
}

// rideCommand runs /ride [subcommand].
type rideCommand struct {
	Sub cmd.Optional[subcommand] `cmd:"subcommand"`
}

func (c rideCommand) Run(src cmd.Source, o *cmd.Output, _ *world.Tx) {
	b := active.Load()
	if b == nil {
		o.Error("ride is not enabled")
		return
	}

	var args []string
	if sub, ok := c.Sub.Load(); ok {
		args = []string{string(sub)}
	}
	b.plugin.Commands().Run(b.sender(src, o), args)
}

// sender adapts a command source to ride.Sender. Non-player sources are the
// console and hold every permission.
func (b *Binding) sender(src cmd.Source, o *cmd.Output) ride.Sender {
	p, _ := src.(*player.Player)
	return &commandSender{p: p, perms: b.perms, out: o}
}

type commandSender struct {
	p     *player.Player
	perms Permissions
	out   *cmd.Output
}

func (s *commandSender) HasPermission(perm string) bool {
	if s.p == nil {
		return true
	}
	return s.perms.HasPermission(s.p, perm)
}

func (s *commandSender) Message(msg string) {
	if s.out == nil {
		return
	}
	if s.p == nil {
		msg = ride.Plain(msg)
	}
	s.out.Print(msg)
}

// registerCommand registers /ride and its alias /rd.
func registerCommand(b *Binding) {
	active.Store(b)
	cmd.Register(cmd.New("ride", "Steerable mounts.", []string{"rd"}, rideCommand{}))
}
