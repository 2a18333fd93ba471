package ride

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	keyRequireSaddle          = "require-saddle"
	keySaddleItem             = "saddle-item"
	keySpeed                  = "speed"
	keyJumpStrength           = "jump-strength"
	keyMultiJump              = "multi-jump"
	keyExtraJumps             = "extra-jumps"
	keyRamDamage              = "ram-damage"
	keyRamEnabled             = "ram-enabled"
	keyRamBlacklist           = "ram-blacklist"
	keySprintMultiplier       = "sprint.multiplier"
	keyDoubleTapTime          = "sprint.double-tap-time"
	keyFallProtectionDistance = "fall-protection-distance"
	keyJumpCooldown           = "jump-cooldown"
	keyRamCooldown            = "ram-cooldown"
	keyTickInterval           = "tick-interval"
	keyCleanupInterval        = "cleanup-interval"

	keyPrefix            = "messages.prefix"
	keyMountSuccess      = "messages.mount-success"
	keyDismountSuccess   = "messages.dismount-success"
	keyNoPermission      = "messages.no-permission"
	keySaddleRequired    = "messages.saddle-required"
	keyConfigReloaded    = "messages.config-reloaded"
	keyNoAdminPermission = "messages.no-admin-permission"

	configFileMode = 0o644
	configDirMode  = 0o755
)

// Config owns the current Settings snapshot and reloads it from a TOML file.
// Readers call Settings on every use; the snapshot is swapped atomically so a
// reload never exposes a half-written configuration.
type Config struct {
	path string
	log  *slog.Logger

	current atomic.Pointer[Settings]

	// reloadMu serialises Reload and SaveDefault
	reloadMu sync.Mutex
}

// NewConfig creates a config backed by the file at path, starting from the
// default settings. Call Reload to read the file.
func NewConfig(path string, log *slog.Logger) *Config {
	if log == nil {
		log = slog.Default()
	}
	c := &Config{path: path, log: log}
	c.current.Store(DefaultSettings())
	return c
}

// LoadConfig creates a config for path, writing the default file first if it
// does not exist, and loads it.
func LoadConfig(path string, log *slog.Logger) (*Config, error) {
	c := NewConfig(path, log)
	if path == "" {
		return c, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := c.SaveDefault(); err != nil {
			return nil, err
		}
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns the file the config is loaded from.
func (c *Config) Path() string {
	return c.path
}

// Settings returns the current snapshot. The returned value must not be modified.
func (c *Config) Settings() *Settings {
	return c.current.Load()
}

// Set replaces the current snapshot.
func (c *Config) Set(s *Settings) {
	if s == nil {
		return
	}
	c.current.Store(s)
}

// Reload re-reads the configuration file. On error, or without a file path,
// the current snapshot is kept.
func (c *Config) Reload() error {
	if c.path == "" {
		return nil
	}

	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(c.path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("ride: read config %s: %w", c.path, err)
		}
		c.log.Debug("ride: config file missing, using defaults", "path", c.path)
	}

	c.current.Store(c.decode(v))
	return nil
}

// SaveDefault writes the default configuration to the config path, replacing
// any existing file.
func (c *Config) SaveDefault() error {
	if c.path == "" {
		return errors.New("ride: config path is empty")
	}

	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	data, err := toml.Marshal(schemaFrom(DefaultSettings()))
	if err != nil {
		return fmt.Errorf("ride: encode default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), configDirMode); err != nil {
		return fmt.Errorf("ride: create config directory: %w", err)
	}
	if err := os.WriteFile(c.path, data, configFileMode); err != nil {
		return fmt.Errorf("ride: write default config: %w", err)
	}
	return nil
}

// decode builds a Settings snapshot from v, logging and skipping invalid values.
func (c *Config) decode(v *viper.Viper) *Settings {
	def := DefaultSettings()

	s := &Settings{
		RequireSaddle:          v.GetBool(keyRequireSaddle),
		SaddleItem:             v.GetString(keySaddleItem),
		Speed:                  v.GetFloat64(keySpeed),
		JumpStrength:           v.GetFloat64(keyJumpStrength),
		MultiJump:              v.GetBool(keyMultiJump),
		ExtraJumps:             v.GetInt(keyExtraJumps),
		RamEnabled:             v.GetBool(keyRamEnabled),
		RamDamage:              v.GetFloat64(keyRamDamage),
		RamBlacklist:           make(map[string]struct{}),
		SprintMultiplier:       v.GetFloat64(keySprintMultiplier),
		DoubleTapTime:          millis(v.GetInt64(keyDoubleTapTime)),
		FallProtectionDistance: v.GetFloat64(keyFallProtectionDistance),
		JumpCooldown:           millis(v.GetInt64(keyJumpCooldown)),
		RamCooldown:            millis(v.GetInt64(keyRamCooldown)),
		TickInterval:           millis(v.GetInt64(keyTickInterval)),
		CleanupInterval:        millis(v.GetInt64(keyCleanupInterval)),
		Messages: Messages{
			Prefix:            v.GetString(keyPrefix),
			MountSuccess:      v.GetString(keyMountSuccess),
			DismountSuccess:   v.GetString(keyDismountSuccess),
			NoPermission:      v.GetString(keyNoPermission),
			SaddleRequired:    v.GetString(keySaddleRequired),
			ConfigReloaded:    v.GetString(keyConfigReloaded),
			NoAdminPermission: v.GetString(keyNoAdminPermission),
		},
	}

	for _, name := range v.GetStringSlice(keyRamBlacklist) {
		if !KnownLivingType(name) {
			c.log.Warn("ride: unknown entity type in ram-blacklist", "type", name)
			continue
		}
		s.RamBlacklist[normaliseType(name)] = struct{}{}
	}

	if s.ExtraJumps < 0 {
		c.log.Warn("ride: extra-jumps must not be negative", "value", s.ExtraJumps)
		s.ExtraJumps = 0
	}
	if s.TickInterval <= 0 {
		c.log.Warn("ride: tick-interval must be positive", "value", s.TickInterval)
		s.TickInterval = def.TickInterval
	}
	if s.CleanupInterval <= 0 {
		c.log.Warn("ride: cleanup-interval must be positive", "value", s.CleanupInterval)
		s.CleanupInterval = def.CleanupInterval
	}
	if s.SaddleItem == "" {
		s.SaddleItem = def.SaddleItem
	}
	return s
}

func setDefaults(v *viper.Viper) {
	def := DefaultSettings()

	v.SetDefault(keyRequireSaddle, def.RequireSaddle)
	v.SetDefault(keySaddleItem, def.SaddleItem)
	v.SetDefault(keySpeed, def.Speed)
	v.SetDefault(keyJumpStrength, def.JumpStrength)
	v.SetDefault(keyMultiJump, def.MultiJump)
	v.SetDefault(keyExtraJumps, def.ExtraJumps)
	v.SetDefault(keyRamDamage, def.RamDamage)
	v.SetDefault(keyRamEnabled, def.RamEnabled)
	v.SetDefault(keyRamBlacklist, []string{})
	v.SetDefault(keySprintMultiplier, def.SprintMultiplier)
	v.SetDefault(keyDoubleTapTime, def.DoubleTapTime.Milliseconds())
	v.SetDefault(keyFallProtectionDistance, def.FallProtectionDistance)
	v.SetDefault(keyJumpCooldown, def.JumpCooldown.Milliseconds())
	v.SetDefault(keyRamCooldown, def.RamCooldown.Milliseconds())
	v.SetDefault(keyTickInterval, def.TickInterval.Milliseconds())
	v.SetDefault(keyCleanupInterval, def.CleanupInterval.Milliseconds())

	v.SetDefault(keyPrefix, def.Messages.Prefix)
	v.SetDefault(keyMountSuccess, def.Messages.MountSuccess)
	v.SetDefault(keyDismountSuccess, def.Messages.DismountSuccess)
	v.SetDefault(keyNoPermission, def.Messages.NoPermission)
	v.SetDefault(keySaddleRequired, def.Messages.SaddleRequired)
	v.SetDefault(keyConfigReloaded, def.Messages.ConfigReloaded)
	v.SetDefault(keyNoAdminPermission, def.Messages.NoAdminPermission)
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// fileSchema is the on-disk layout of the configuration file.
type fileSchema struct {
	RequireSaddle          bool           `toml:"require-saddle"`
	SaddleItem             string         `toml:"saddle-item"`
	Speed                  float64        `toml:"speed"`
	JumpStrength           float64        `toml:"jump-strength"`
	MultiJump              bool           `toml:"multi-jump"`
	ExtraJumps             int            `toml:"extra-jumps"`
	RamDamage              float64        `toml:"ram-damage"`
	RamEnabled             bool           `toml:"ram-enabled"`
	RamBlacklist           []string       `toml:"ram-blacklist"`
	FallProtectionDistance float64        `toml:"fall-protection-distance"`
	JumpCooldown           int64          `toml:"jump-cooldown"`
	RamCooldown            int64          `toml:"ram-cooldown"`
	TickInterval           int64          `toml:"tick-interval"`
	CleanupInterval        int64          `toml:"cleanup-interval"`
	Sprint                 sprintSchema   `toml:"sprint"`
	Messages               messagesSchema `toml:"messages"`
}

type sprintSchema struct {
	Multiplier    float64 `toml:"multiplier"`
	DoubleTapTime int64   `toml:"double-tap-time"`
}

type messagesSchema struct {
	Prefix            string `toml:"prefix"`
	MountSuccess      string `toml:"mount-success"`
	DismountSuccess   string `toml:"dismount-success"`
	NoPermission      string `toml:"no-permission"`
	SaddleRequired    string `toml:"saddle-required"`
	ConfigReloaded    string `toml:"config-reloaded"`
	NoAdminPermission string `toml:"no-admin-permission"`
}

func schemaFrom(s *Settings) fileSchema {
	blacklist := make([]string, 0, len(s.RamBlacklist))
	for name := range s.RamBlacklist {
		blacklist = append(blacklist, name)
	}
	return fileSchema{
		RequireSaddle:          s.RequireSaddle,
		SaddleItem:             s.SaddleItem,
		Speed:                  s.Speed,
		JumpStrength:           s.JumpStrength,
		MultiJump:              s.MultiJump,
		ExtraJumps:             s.ExtraJumps,
		RamDamage:              s.RamDamage,
		RamEnabled:             s.RamEnabled,
		RamBlacklist:           blacklist,
		FallProtectionDistance: s.FallProtectionDistance,
		JumpCooldown:           s.JumpCooldown.Milliseconds(),
		RamCooldown:            s.RamCooldown.Milliseconds(),
		TickInterval:           s.TickInterval.Milliseconds(),
		CleanupInterval:        s.CleanupInterval.Milliseconds(),
		Sprint: sprintSchema{
			Multiplier:    s.SprintMultiplier,
			DoubleTapTime: s.DoubleTapTime.Milliseconds(),
		},
		Messages: messagesSchema(s.Messages),
	}
}
