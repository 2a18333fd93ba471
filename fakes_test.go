package ride

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// manualClock is a clock that only moves when told to.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: epoch}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig(mut func(s *Settings)) *Config {
	s := DefaultSettings()
	if mut != nil {
		mut(s)
	}
	c := NewConfig("", discardLogger())
	c.Set(s)
	return c
}

type fakeEntity struct {
	id    uuid.UUID
	typ   string
	valid bool
	pos   mgl64.Vec3
	vel   mgl64.Vec3
}

func (e *fakeEntity) UUID() uuid.UUID { return e.id }
func (e *fakeEntity) Type() string { return e.typ }
func (e *fakeEntity) Valid() bool { return e.valid }
func (e *fakeEntity) Position() mgl64.Vec3 { return e.pos }
func (e *fakeEntity) Velocity() mgl64.Vec3 { return e.vel }
func (e *fakeEntity) SetVelocity(v mgl64.Vec3) { e.vel = v }

type fakeLiving struct {
	fakeEntity

	damage    float64
	hits      int
	attackers []Entity

	// noAttributes simulates entities without attribute support
	noAttributes bool
	modifiers    map[string]float64
}

func (l *fakeLiving) Hurt(damage float64, attacker Entity) {
	l.damage += damage
	l.hits++
	l.attackers = append(l.attackers, attacker)
}

func (l *fakeLiving) AddModifier(attribute, key string, amount float64) bool {
	if l.noAttributes {
		return false
	}
	if l.modifiers == nil {
		l.modifiers = make(map[string]float64)
	}
	l.modifiers[attribute+"/"+key] = amount
	return true
}

func (l *fakeLiving) RemoveModifier(attribute, key string) bool {
	if l.noAttributes {
		return false
	}
	delete(l.modifiers, attribute+"/"+key)
	return true
}

func (l *fakeLiving) hasSafeFall() bool {
	_, ok := l.modifiers[SafeFallAttribute+"/"+SafeFallModifier]
	return ok
}

func newLiving(typ string, pos mgl64.Vec3) *fakeLiving {
	return &fakeLiving{fakeEntity: fakeEntity{id: uuid.New(), typ: typ, valid: true, pos: pos}}
}

type fakeRider struct {
	fakeLiving

	name     string
	online   bool
	rot      cube.Rotation
	input    Input
	mainHand string
	offHand  string
	denied   map[string]bool
	messages []string
}

func newRider(name string) *fakeRider {
	return &fakeRider{
		fakeLiving: fakeLiving{fakeEntity: fakeEntity{id: uuid.New(), typ: "minecraft:player", valid: true}},
		name:       name,
		online:     true,
		denied:     make(map[string]bool),
	}
}

func (r *fakeRider) Name() string { return r.name }
func (r *fakeRider) Online() bool { return r.online }
func (r *fakeRider) Rotation() cube.Rotation { return r.rot }
func (r *fakeRider) Input() Input { return r.input }
func (r *fakeRider) HeldItems() (string, string) { return r.mainHand, r.offHand }
func (r *fakeRider) HasPermission(perm string) bool { return !r.denied[perm] }
func (r *fakeRider) Message(msg string) { r.messages = append(r.messages, msg) }
func (r *fakeRider) lastMessage() string {
	if len(r.messages) == 0 {
		return ""
	}
	return r.messages[len(r.messages)-1]
}

type fakeMount struct {
	fakeLiving

	rot        cube.Rotation
	onGround   bool
	passengers []uuid.UUID
	refuse     bool
}

func newMount() *fakeMount {
	return &fakeMount{
		fakeLiving: fakeLiving{fakeEntity: fakeEntity{id: uuid.New(), typ: "minecraft:goat", valid: true}},
		onGround:   true,
	}
}

func (m *fakeMount) Rotation() cube.Rotation { return m.rot }
func (m *fakeMount) SetRotation(rot cube.Rotation) { m.rot = rot }
func (m *fakeMount) OnGround() bool { return m.onGround }
func (m *fakeMount) Passengers() []uuid.UUID { return m.passengers }

func (m *fakeMount) AddPassenger(r Rider) bool {
	if m.refuse {
		return false
	}
	m.passengers = append(m.passengers, r.UUID())
	return true
}

func (m *fakeMount) RemovePassenger(id uuid.UUID) {
	for i, p := range m.passengers {
		if p == id {
			m.passengers = append(m.passengers[:i], m.passengers[i+1:]...)
			return
		}
	}
}

// fakeWorld is a single-context host: every entity is reachable from every
// Exec call unless marked unreachable.
type fakeWorld struct {
	mu          sync.Mutex
	riders      map[uuid.UUID]*fakeRider
	mounts      map[uuid.UUID]*fakeMount
	others      map[uuid.UUID]Entity
	unreachable map[uuid.UUID]bool
	releases    map[uuid.UUID]int
	execs       int
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		riders:      make(map[uuid.UUID]*fakeRider),
		mounts:      make(map[uuid.UUID]*fakeMount),
		others:      make(map[uuid.UUID]Entity),
		unreachable: make(map[uuid.UUID]bool),
		releases:    make(map[uuid.UUID]int),
	}
}

func (w *fakeWorld) addRider(r *fakeRider) *fakeRider {
	w.mu.Lock()
	w.riders[r.id] = r
	w.mu.Unlock()
	return r
}

func (w *fakeWorld) addMount(m *fakeMount) *fakeMount {
	w.mu.Lock()
	w.mounts[m.id] = m
	w.mu.Unlock()
	return m
}

func (w *fakeWorld) add(e Entity) {
	w.mu.Lock()
	w.others[e.UUID()] = e
	w.mu.Unlock()
}

func (w *fakeWorld) setUnreachable(id uuid.UUID) {
	w.mu.Lock()
	w.unreachable[id] = true
	w.mu.Unlock()
}

func (w *fakeWorld) known(id uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.unreachable[id] {
		return false
	}
	_, r := w.riders[id]
	_, m := w.mounts[id]
	_, o := w.others[id]
	return r || m || o
}

func (w *fakeWorld) Exec(owner uuid.UUID, fn func(tx Tx)) bool {
	if !w.known(owner) {
		return false
	}
	w.mu.Lock()
	w.execs++
	w.mu.Unlock()
	fn(w)
	return true
}

func (w *fakeWorld) Release(id uuid.UUID) {
	w.mu.Lock()
	w.releases[id]++
	w.mu.Unlock()
}

// released returns how often the core released id.
func (w *fakeWorld) released(id uuid.UUID) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.releases[id]
}

func (w *fakeWorld) Rider(id uuid.UUID) (Rider, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.riders[id]
	if !ok || !r.online || w.unreachable[id] {
		return nil, false
	}
	return r, true
}

func (w *fakeWorld) Mount(id uuid.UUID) (Mount, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	m, ok := w.mounts[id]
	if !ok || w.unreachable[id] {
		return nil, false
	}
	return m, true
}

func (w *fakeWorld) EntitiesWithin(box cube.BBox) []Entity {
	w.mu.Lock()
	defer w.mu.Unlock()

	var all []Entity
	for _, r := range w.riders {
		all = append(all, r)
	}
	for _, m := range w.mounts {
		all = append(all, m)
	}
	for _, e := range w.others {
		all = append(all, e)
	}

	var out []Entity
	for _, e := range all {
		if within(box, e.Position()) {
			out = append(out, e)
		}
	}
	return out
}

func within(box cube.BBox, p mgl64.Vec3) bool {
	lo, hi := box.Min(), box.Max()
	return p[0] >= lo[0] && p[0] <= hi[0] &&
		p[1] >= lo[1] && p[1] <= hi[1] &&
		p[2] >= lo[2] && p[2] <= hi[2]
}

var _ Executor = (*fakeWorld)(nil)
var _ Releaser = (*fakeWorld)(nil)
var _ Tx = (*fakeWorld)(nil)
var _ Rider = (*fakeRider)(nil)
var _ Mount = (*fakeMount)(nil)

// mockHandle is a TaskHandle whose calls are recorded.
type mockHandle struct {
	mock.Mock
	cancelled bool
}

func (h *mockHandle) Cancel() {
	h.Called()
	h.cancelled = true
}

func (h *mockHandle) Cancelled() bool {
	return h.cancelled
}

// harness runs a whole plugin against a fakeWorld with a manual clock.
type harness struct {
	t      *testing.T
	clock  *manualClock
	world  *fakeWorld
	plugin *Plugin
}

func newHarness(t *testing.T, mut func(s *Settings)) *harness {
	t.Helper()

	s := DefaultSettings()
	if mut != nil {
		mut(s)
	}
	h := &harness{t: t, clock: newManualClock(), world: newFakeWorld()}

	p, err := NewBuilder().
		Settings(s).
		Executor(h.world).
		Shards(4).
		Manual().
		Clock(h.clock.Now).
		Logger(discardLogger()).
		Init()
	require.NoError(t, err)
	t.Cleanup(p.Shutdown)

	h.plugin = p
	return h
}

func (h *harness) settings() *Settings { return h.plugin.Config().Settings() }

func (h *harness) tick() { h.plugin.Tick(h.clock.Now()) }

// advance moves time forward and runs everything that became due.
func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.tick()
}

// mount seats r on m through the coordinator and requires it to succeed.
func (h *harness) mount(r *fakeRider, m *fakeMount) {
	h.t.Helper()
	ev := &EventInteract{Rider: r, Target: m, Hand: HandMain}
	h.plugin.Coordinator().HandleInteract(ev)
	require.True(h.t, ev.Cancelled(), "interaction should be cancelled")
	h.tick()
	require.True(h.t, h.plugin.Registry().IsRiding(r.id), "rider should be riding")
}
