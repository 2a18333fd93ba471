package dragonfly

import (
	"sync"

	"github.com/df-mc/dragonfly/server"
	"github.com/df-mc/dragonfly/server/block/cube"
	"github.com/df-mc/dragonfly/server/session"
	"github.com/google/uuid"
	"github.com/oriumgames/ride"
	"github.com/sandertv/gophertunnel/minecraft/protocol/packet"
)

// Inputs records the movement keys and look direction every client reports
// in its PlayerAuthInput packets. Dragonfly consumes those packets itself
// without exposing key state, so Inputs reads them off the connection.
type Inputs struct {
	states map[uuid.UUID]inputState
	mu     sync.RWMutex
}

type inputState struct {
	input ride.Input
	rot   cube.Rotation
}

// NewInputs creates an empty input table.
func NewInputs() *Inputs {
	return &Inputs{states: make(map[uuid.UUID]inputState)}
}

// Input returns the last reported input and look direction of a player.
func (i *Inputs) Input(id uuid.UUID) (ride.Input, cube.Rotation, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	s, ok := i.states[id]
	return s.input, s.rot, ok
}

// Update records the state carried by an input packet.
func (i *Inputs) Update(id uuid.UUID, pk *packet.PlayerAuthInput) {
	s := inputState{
		input: DecodeInput(pk),
		rot:   cube.Rotation{float64(pk.Yaw), float64(pk.Pitch)},
	}
	i.mu.Lock()
	i.states[id] = s
	i.mu.Unlock()
}

// Forget drops the state of a player.
func (i *Inputs) Forget(id uuid.UUID) {
	i.mu.Lock()
	delete(i.states, id)
	i.mu.Unlock()
}

// DecodeInput translates the input flags of a packet into a ride.Input.
func DecodeInput(pk *packet.PlayerAuthInput) ride.Input {
	flags := pk.InputData
	return ride.Input{
		Forward:  flags.Load(packet.InputFlagUp),
		Backward: flags.Load(packet.InputFlagDown),
		Left:     flags.Load(packet.InputFlagLeft),
		Right:    flags.Load(packet.InputFlagRight),
		Jump:     flags.Load(packet.InputFlagJumpDown),
		Sprint:   flags.Load(packet.InputFlagSprintDown),
	}
}

// WrapListeners makes every listener of conf feed player input into i.
func (i *Inputs) WrapListeners(conf *server.Config) {
	for n, open := range conf.Listeners {
		conf.Listeners[n] = func(c server.Config) (server.Listener, error) {
			l, err := open(c)
			if err != nil {
				return nil, err
			}
			return &listener{Listener: l, inputs: i}, nil
		}
	}
}

// listener taps the connections accepted by a server.Listener.
type listener struct {
	server.Listener
	inputs *Inputs
}

func (l *listener) Accept() (session.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	id, err := uuid.Parse(c.IdentityData().Identity)
	if err != nil {
		// Dragonfly refuses such connections itself.
		return c, nil
	}
	return &conn{Conn: c, id: id, inputs: l.inputs}, nil
}

func (l *listener) Disconnect(c session.Conn, reason string) error {
	if wrapped, ok := c.(*conn); ok {
		c = wrapped.Conn
	}
	return l.Listener.Disconnect(c, reason)
}

// conn records input packets read from a connection.
type conn struct {
	session.Conn
	id     uuid.UUID
	inputs *Inputs
}

func (c *conn) ReadPacket() (packet.Packet, error) {
	pk, err := c.Conn.ReadPacket()
	if err != nil {
		return pk, err
	}
	if in, ok := pk.(*packet.PlayerAuthInput); ok {
		c.inputs.Update(c.id, in)
	}
	return pk, nil
}
