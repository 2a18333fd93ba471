package ride

import (
	"strings"
	"time"

	"github.com/sandertv/gophertunnel/minecraft/text"
)

// Settings is an immutable snapshot of the add-on configuration.
// A new snapshot is produced on every reload; values are never mutated in place.
type Settings struct {
	RequireSaddle bool
	SaddleItem    string

	Speed        float64
	JumpStrength float64
	MultiJump    bool
	ExtraJumps   int

	RamEnabled   bool
	RamDamage    float64
	RamBlacklist map[string]struct{}

	SprintMultiplier float64
	DoubleTapTime    time.Duration

	FallProtectionDistance float64

	JumpCooldown    time.Duration
	RamCooldown     time.Duration
	TickInterval    time.Duration
	CleanupInterval time.Duration

	Messages Messages
}

// Messages holds the user-facing message templates. Templates use '&'
// colour codes and must be passed through Format before display.
type Messages struct {
	Prefix            string
	MountSuccess      string
	DismountSuccess   string
	NoPermission      string
	SaddleRequired    string
	ConfigReloaded    string
	NoAdminPermission string
}

// DefaultSettings returns the settings used when no configuration file is present.
func DefaultSettings() *Settings {
	return &Settings{
		RequireSaddle:          false,
		SaddleItem:             "minecraft:saddle",
		Speed:                  0.25,
		JumpStrength:           0.8,
		MultiJump:              true,
		ExtraJumps:             1,
		RamEnabled:             true,
		RamDamage:              4.0,
		RamBlacklist:           map[string]struct{}{},
		SprintMultiplier:       1.5,
		DoubleTapTime:          300 * time.Millisecond,
		FallProtectionDistance: 500.0,
		JumpCooldown:           200 * time.Millisecond,
		RamCooldown:            500 * time.Millisecond,
		TickInterval:           50 * time.Millisecond,
		CleanupInterval:        5 * time.Second,
		Messages: Messages{
			Prefix:            "&8[&6Ride&8] ",
			MountSuccess:      "&aYou are now riding!",
			DismountSuccess:   "&eYou got off your mount.",
			NoPermission:      "&cYou don't have permission to ride!",
			SaddleRequired:    "&cYou need a saddle in your hand to ride!",
			ConfigReloaded:    "&aConfiguration reloaded!",
			NoAdminPermission: "&cYou don't have permission to use this command!",
		},
	}
}

// Format renders a message template with the configured prefix.
func (s *Settings) Format(template string) string {
	return Colourise(s.Messages.Prefix + template)
}

// FormatRaw renders a message template without the prefix.
func (s *Settings) FormatRaw(template string) string {
	return Colourise(template)
}

// RamBlacklisted reports whether entities of the given type are immune to ramming.
func (s *Settings) RamBlacklisted(entityType string) bool {
	if len(s.RamBlacklist) == 0 {
		return false
	}
	_, ok := s.RamBlacklist[normaliseType(entityType)]
	return ok
}

// HoldsSaddle reports whether either held item is the configured saddle item.
func (s *Settings) HoldsSaddle(mainHand, offHand string) bool {
	want := normaliseType(s.SaddleItem)
	return (mainHand != "" && normaliseType(mainHand) == want) ||
		(offHand != "" && normaliseType(offHand) == want)
}

// Colourise translates '&' colour and format codes into the '§' codes the
// client understands. An '&' not followed by a valid code is kept as is.
func Colourise(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '&' && i+1 < len(s) && isFormatCode(s[i+1]) {
			b.WriteString("§")
			b.WriteByte(toLower(s[i+1]))
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Plain strips every colour code from a formatted message, for console output.
func Plain(s string) string {
	return text.Clean(Colourise(s))
}

func isFormatCode(c byte) bool {
	return strings.IndexByte("0123456789abcdefklmnorABCDEFKLMNOR", c) >= 0
}

func toLower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

// normaliseType lowercases an entity or item name and strips the
// "minecraft:" namespace so "ZOMBIE", "zombie" and "minecraft:zombie" match.
func normaliseType(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimPrefix(name, "minecraft:")
}

// knownLivingTypes lists the vanilla living entity types accepted in the ram
// blacklist.
var knownLivingTypes = map[string]struct{}{
	"allay": {}, "armadillo": {}, "axolotl": {}, "bat": {}, "bee": {}, "blaze": {},
	"bogged": {}, "breeze": {}, "camel": {}, "cat": {}, "cave_spider": {}, "chicken": {},
	"cod": {}, "cow": {}, "creaking": {}, "creeper": {}, "dolphin": {}, "donkey": {},
	"drowned": {}, "elder_guardian": {}, "ender_dragon": {}, "enderman": {}, "endermite": {},
	"evoker": {}, "fox": {}, "frog": {}, "ghast": {}, "glow_squid": {}, "goat": {},
	"guardian": {}, "hoglin": {}, "horse": {}, "husk": {}, "iron_golem": {}, "llama": {},
	"magma_cube": {}, "mooshroom": {}, "mule": {}, "ocelot": {}, "panda": {}, "parrot": {},
	"phantom": {}, "pig": {}, "piglin": {}, "piglin_brute": {}, "pillager": {}, "player": {},
	"polar_bear": {}, "pufferfish": {}, "rabbit": {}, "ravager": {}, "salmon": {}, "sheep": {},
	"shulker": {}, "silverfish": {}, "skeleton": {}, "skeleton_horse": {}, "slime": {},
	"sniffer": {}, "snow_golem": {}, "spider": {}, "squid": {}, "stray": {}, "strider": {},
	"tadpole": {}, "trader_llama": {}, "tropical_fish": {}, "turtle": {}, "vex": {},
	"villager": {}, "vindicator": {}, "wandering_trader": {}, "warden": {}, "witch": {},
	"wither": {}, "wither_skeleton": {}, "wolf": {}, "zoglin": {}, "zombie": {},
	"zombie_horse": {}, "zombie_villager": {}, "zombified_piglin": {},
}

// KnownLivingType reports whether name is a vanilla living entity type.
func KnownLivingType(name string) bool {
	_, ok := knownLivingTypes[normaliseType(name)]
	return ok
}
