package ride

// Hand identifies which hand an interaction was made with.
type Hand uint8

const (
	// HandMain is the main hand, the only hand Bedrock clients interact with.
	HandMain Hand = iota
	// HandOff is the off hand.
	HandOff
)

// Event types are the host signals the Coordinator reacts to. Hosts translate
// their own callbacks into these and pass them to Coordinator.Dispatch.

// EventInteract is emitted when a rider interacts with an entity.
type EventInteract struct {
	Rider  Rider
	Target Entity
	Hand   Hand

	cancelled bool
}

// Cancel stops the host from running its default interaction.
func (e *EventInteract) Cancel() { e.cancelled = true }

// Cancelled reports whether the default interaction was cancelled.
func (e *EventInteract) Cancelled() bool { return e.cancelled }

// EventDismount is emitted when the host detached a rider from a mount.
type EventDismount struct {
	Rider Rider
	Mount Entity
}

// EventQuit is emitted when a rider disconnects.
type EventQuit struct {
	Rider Rider
}

// EventAttack is emitted when a rider attacks an entity.
type EventAttack struct {
	Rider  Rider
	Target Entity

	cancelled bool
}

// Cancel stops the attack from dealing damage.
func (e *EventAttack) Cancel() { e.cancelled = true }

// Cancelled reports whether the attack was cancelled.
func (e *EventAttack) Cancelled() bool { return e.cancelled }
