package ride

import (
	"fmt"
	"strings"
)

// Sender is whoever runs a command: a player or the console.
type Sender interface {
	HasPermission(perm string) bool
	Message(msg string)
}

// Subcommands lists the subcommands in the order help shows them.
var Subcommands = []string{"reload", "info", "help"}

// Commands implements the /ride command independently of any host command
// framework.
type Commands struct {
	plugin *Plugin
}

// Run executes the subcommand in args[0]. No arguments show the help.
func (c *Commands) Run(src Sender, args []string) {
	if len(args) == 0 {
		c.help(src)
		return
	}

	switch strings.ToLower(args[0]) {
	case "reload":
		c.reload(src)
	case "info":
		c.info(src)
	case "help":
		c.help(src)
	default:
		s := c.plugin.config.Settings()
		src.Message(s.Format("&cUnknown subcommand. Use /ride help"))
	}
}

// Complete returns the subcommands matching the partial first argument that
// src is allowed to run.
func (c *Commands) Complete(src Sender, args []string) []string {
	if len(args) > 1 {
		return nil
	}
	prefix := ""
	if len(args) == 1 {
		prefix = strings.ToLower(args[0])
	}

	var out []string
	for _, sub := range Subcommands {
		if !strings.HasPrefix(sub, prefix) {
			continue
		}
		if sub == "reload" && !src.HasPermission(PermissionAdmin) {
			continue
		}
		out = append(out, sub)
	}
	return out
}

func (c *Commands) reload(src Sender) {
	s := c.plugin.config.Settings()
	if !src.HasPermission(PermissionAdmin) {
		src.Message(s.Format(s.Messages.NoAdminPermission))
		return
	}
	if err := c.plugin.Reload(); err != nil {
		c.plugin.log.Error("ride: reload failed", "error", err)
		src.Message(s.Format("&cReload failed: " + err.Error()))
		return
	}

	s = c.plugin.config.Settings()
	src.Message(s.Format(s.Messages.ConfigReloaded))
}

func (c *Commands) info(src Sender) {
	s := c.plugin.config.Settings()

	multiJump := "No"
	if s.MultiJump {
		multiJump = fmt.Sprintf("Yes (%d extra)", s.ExtraJumps)
	}
	ram := "Disabled"
	if s.RamEnabled {
		ram = fmt.Sprintf("%g", s.RamDamage)
	}

	lines := []string{
		"&6&l=== Ride Info ===",
		"&7Version: &f" + Version,
		fmt.Sprintf("&7Active riders: &f%d", c.plugin.registry.RiderCount()),
		"&7Saddle required: &f" + yesNo(s.RequireSaddle),
		fmt.Sprintf("&7Speed: &f%g", s.Speed),
		fmt.Sprintf("&7Sprint multiplier: &f%gx", s.SprintMultiplier),
		fmt.Sprintf("&7Jump strength: &f%g", s.JumpStrength),
		"&7Multi-jump: &f" + multiJump,
		"&7Ram damage: &f" + ram,
	}
	for _, l := range lines {
		src.Message(s.FormatRaw(l))
	}
}

func (c *Commands) help(src Sender) {
	s := c.plugin.config.Settings()
	lines := []string{
		"&6&l=== Ride Help ===",
		"&e/ride reload &7- Reload the configuration",
		"&e/ride info &7- Show add-on information",
		"&e/ride help &7- Show this help",
		"",
		"&6Controls:",
		"&7• &fUse on a mount &7- get on",
		"&7• &fWASD &7- move",
		"&7• &fSpace &7- jump",
		"&7• &fDouble-tap W &7- sprint",
		"&7• &fSneak &7- get off",
	}
	for _, l := range lines {
		src.Message(s.FormatRaw(l))
	}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
