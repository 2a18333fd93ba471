package dragonfly

import (
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/entity"
	"github.com/df-mc/dragonfly/server/player"
	"github.com/df-mc/dragonfly/server/world"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/oriumgames/ride"
)

// Handler translates player events into riding events.
//
// Concurrency:
// Dragonfly calls handlers inside the transaction of the player's world, so
// every entity passed in may be used directly for the duration of the call.
type Handler struct {
	player.NopHandler
	binding *Binding
}

// Compile-time check that Handler implements player.Handler.
var _ player.Handler = (*Handler)(nil)

func (h *Handler) coordinator() *ride.Coordinator {
	return h.binding.plugin.Coordinator()
}

func (h *Handler) riding(p *player.Player) bool {
	return h.binding.plugin.Registry().IsRiding(p.UUID())
}

// HandleItemUseOnEntity mounts the player on the entity it interacts with.
// Bedrock clients only interact with the main hand. A target tracked only for
// this interaction is forgotten again when no attach was scheduled.
func (h *Handler) HandleItemUseOnEntity(ctx *player.Context, e world.Entity) {
	ents := h.binding.ents
	target, fresh := ents.wrapTarget(ctx.Val().Tx(), e)
	ev := &ride.EventInteract{
		Rider:  ents.Rider(ctx.Val()),
		Target: target,
		Hand:   ride.HandMain,
	}
	h.coordinator().HandleInteract(ev)
	if ev.Cancelled() {
		ctx.Cancel()
		return
	}
	if fresh {
		ents.Forget(e.H().UUID())
	}
}

// HandleAttackEntity keeps riders from hurting their own mount.
func (h *Handler) HandleAttackEntity(ctx *player.Context, e world.Entity, _, _ *float64, _ *bool) {
	ev := &ride.EventAttack{
		Rider:  h.binding.ents.Rider(ctx.Val()),
		Target: h.binding.ents.wrap(e),
	}
	h.coordinator().HandleAttack(ev)
	if ev.Cancelled() {
		ctx.Cancel()
	}
}

// HandleToggleSneak dismounts a riding player that starts sneaking.
func (h *Handler) HandleToggleSneak(ctx *player.Context, after bool) {
	if !after || !h.riding(ctx.Val()) {
		return
	}
	h.coordinator().Dismount(h.binding.ents.Rider(ctx.Val()))
}

// HandleMove pins a riding player to its seat; the mount moves it instead.
func (h *Handler) HandleMove(ctx *player.Context, _ mgl64.Vec3, _ cube.Rotation) {
	if h.riding(ctx.Val()) {
		ctx.Cancel()
	}
}

// HandleHurt reduces fall damage by the player's safe fall distance.
func (h *Handler) HandleHurt(ctx *player.Context, damage *float64, _ bool, _ *time.Duration, src world.DamageSource) {
	if _, ok := src.(entity.FallDamageSource); !ok {
		return
	}
	protection := h.binding.ents.FallProtection(ctx.Val().UUID())
	if protection <= 0 {
		return
	}
	*damage = max(0, *damage-protection)
	if *damage == 0 {
		ctx.Cancel()
	}
}

// HandleDeath takes a dying player off its mount.
func (h *Handler) HandleDeath(p *player.Player, _ world.DamageSource, _ *bool) {
	if h.riding(p) {
		h.coordinator().Dismount(h.binding.ents.Rider(p))
	}
}

// HandleQuit ends the session of a leaving player and forgets it.
func (h *Handler) HandleQuit(p *player.Player) {
	h.coordinator().HandleQuit(&ride.EventQuit{Rider: h.binding.ents.Rider(p)})
	h.binding.forget(p)
}
