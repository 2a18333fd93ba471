package ride

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Builder configures the add-on before initialization.
// Use NewBuilder() to create a builder and chain configuration methods.
type Builder struct {
	configPath string
	settings   *Settings
	exec       Executor
	shards     int
	manual     bool
	log        *slog.Logger
	now        func() time.Time
}

// NewBuilder creates a new builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Config sets the TOML file settings are loaded from. The file is created
// with defaults if it does not exist.
func (b *Builder) Config(path string) *Builder {
	b.configPath = path
	return b
}

// Settings uses fixed settings instead of a configuration file.
func (b *Builder) Settings(s *Settings) *Builder {
	b.settings = s
	return b
}

// Executor sets how code is run on the context owning an entity.
func (b *Builder) Executor(ex Executor) *Builder {
	b.exec = ex
	return b
}

// Shards sets the number of scheduler shards.
func (b *Builder) Shards(n int) *Builder {
	b.shards = n
	return b
}

// Manual leaves the scheduler stopped so the host drives it through Plugin.Tick.
func (b *Builder) Manual() *Builder {
	b.manual = true
	return b
}

// Logger sets the logger. Defaults to slog.Default().
func (b *Builder) Logger(log *slog.Logger) *Builder {
	b.log = log
	return b
}

// Clock replaces the time source of the registry and scheduler.
func (b *Builder) Clock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Init creates every component, starts the scheduler and the maintenance task
// and returns the running plugin.
func (b *Builder) Init() (*Plugin, error) {
	log := b.log
	if log == nil {
		log = slog.Default()
	}

	var (
		config *Config
		err    error
	)
	if b.settings != nil {
		config = NewConfig("", log)
		config.Set(b.settings)
	} else if config, err = LoadConfig(b.configPath, log); err != nil {
		return nil, err
	}

	schedOpts := []SchedulerOption{
		WithTickRate(config.Settings().TickInterval),
		WithSchedulerLogger(log),
	}
	if b.shards > 0 {
		schedOpts = append(schedOpts, WithShards(b.shards))
	}
	var regOpts []RegistryOption
	if b.now != nil {
		schedOpts = append(schedOpts, withSchedulerClock(b.now))
		regOpts = append(regOpts, WithClock(b.now))
	}

	p := &Plugin{
		config:    config,
		exec:      b.exec,
		log:       log,
		registry:  NewRegistry(config, regOpts...),
		scheduler: NewScheduler(b.exec, schedOpts...),
	}
	p.controller = NewController(config, p.registry, p.scheduler, log)
	p.coordinator = NewCoordinator(config, p.registry, p.scheduler, p.controller, log)
	p.commands = &Commands{plugin: p}

	p.scheduleMaintenance()
	if !b.manual {
		p.scheduler.Start()
	}

	log.Info("ride: enabled", "version", Version, "config", config.Path())
	return p, nil
}

// Plugin is an initialised add-on instance. Multiple instances may coexist
// in one process.
type Plugin struct {
	config      *Config
	exec        Executor
	log         *slog.Logger
	registry    *Registry
	scheduler   *Scheduler
	controller  *Controller
	coordinator *Coordinator
	commands    *Commands

	maintenance   *Task
	maintenanceMu sync.Mutex

	closed atomic.Bool
}

// Config returns the configuration the plugin reads its settings from.
func (p *Plugin) Config() *Config { return p.config }

// Registry returns the riding state.
func (p *Plugin) Registry() *Registry { return p.registry }

// Scheduler returns the scheduler running control loops and maintenance.
func (p *Plugin) Scheduler() *Scheduler { return p.scheduler }

// Controller returns the component driving ridden mounts.
func (p *Plugin) Controller() *Controller { return p.controller }

// Coordinator returns the component hosts pass events to.
func (p *Plugin) Coordinator() *Coordinator { return p.coordinator }

// Commands returns the /ride command implementation.
func (p *Plugin) Commands() *Commands { return p.commands }

// Logger returns the plugin's logger.
func (p *Plugin) Logger() *slog.Logger { return p.log }

// Tick runs every due task. Only needed when built with Manual.
func (p *Plugin) Tick(now time.Time) {
	p.scheduler.Tick(now)
}

// Reload re-reads the configuration file. The maintenance task is
// rescheduled if the cleanup interval changed, and the scheduler and every
// control loop switch to a changed tick interval.
func (p *Plugin) Reload() error {
	before := p.config.Settings()
	if err := p.config.Reload(); err != nil {
		return err
	}
	after := p.config.Settings()

	if after.CleanupInterval != before.CleanupInterval {
		p.scheduleMaintenance()
	}
	if after.TickInterval != before.TickInterval {
		p.scheduler.SetTickRate(after.TickInterval)
		p.controller.Restart()
	}
	p.log.Info("ride: configuration reloaded")
	return nil
}

func (p *Plugin) scheduleMaintenance() {
	interval := p.config.Settings().CleanupInterval

	p.maintenanceMu.Lock()
	defer p.maintenanceMu.Unlock()

	if p.maintenance != nil {
		p.maintenance.Cancel()
	}
	p.maintenance = p.scheduler.RunGlobal(func(*Task) { p.maintain() }, interval, interval)
}

// maintain purges expired cooldowns and retries every deferred modifier
// cleanup on its mount's context.
func (p *Plugin) maintain() {
	p.registry.CleanupCooldowns()

	for _, id := range p.registry.PendingCleanups() {
		mount := id
		p.scheduler.Run(mount, func(tx Tx) {
			m, ok := tx.Mount(mount)
			if !ok || !m.Valid() {
				p.scheduler.Release(mount)
				return
			}
			p.registry.CleanupMount(m)
			releaseIfIdle(p.registry, p.scheduler, mount)
		}, nil)
	}
}

// Shutdown ends every session, takes riders off their mounts where the
// mounts are still reachable and stops the scheduler. It is safe to call
// more than once.
func (p *Plugin) Shutdown() {
	if p.closed.Swap(true) {
		return
	}

	ended := p.registry.DismountAll()
	p.scheduler.Stop()

	if p.exec != nil {
		for _, sess := range ended {
			p.release(sess.Rider, sess.Mount)
		}
	}
	p.log.Info("ride: disabled", "dismounted", len(ended))
}

// release detaches a rider and strips the protective modifier from both
// entities, directly through the executor.
func (p *Plugin) release(rider, mount uuid.UUID) {
	p.exec.Exec(mount, func(tx Tx) {
		if m, ok := tx.Mount(mount); ok && m.Valid() {
			m.RemovePassenger(rider)
			m.RemoveModifier(SafeFallAttribute, SafeFallModifier)
		}
		if r, ok := tx.Rider(rider); ok {
			r.RemoveModifier(SafeFallAttribute, SafeFallModifier)
		}
	})
	p.scheduler.Release(mount)
}
