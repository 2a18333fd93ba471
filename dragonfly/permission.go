package dragonfly

import (
	"strings"
	"sync"

	"github.com/df-mc/dragonfly/server/player"
	"github.com/oriumgames/ride"
)

// Permissions decides what players may do. Dragonfly has no permission
// system of its own.
type Permissions interface {
	HasPermission(p *player.Player, perm string) bool
}

// AllowAll grants every permission to every player.
type AllowAll struct{}

func (AllowAll) HasPermission(*player.Player, string) bool { return true }

// Admins grants ride.PermissionUse to everyone and every other permission to
// the listed player names only. Names are matched case-insensitively.
type Admins struct {
	names map[string]struct{}
	mu    sync.RWMutex
}

// NewAdmins creates an admin list with the given player names.
func NewAdmins(names ...string) *Admins {
	a := &Admins{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		a.Add(n)
	}
	return a
}

// Add grants admin permissions to a player name.
func (a *Admins) Add(name string) {
	a.mu.Lock()
	a.names[strings.ToLower(name)] = struct{}{}
	a.mu.Unlock()
}

// HasPermission lets everyone ride and admins use every other permission.
func (a *Admins) HasPermission(p *player.Player, perm string) bool {
	if perm == ride.PermissionUse {
		return true
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.names[strings.ToLower(p.Name())]
	return ok
}
