package trader

import "trade-bot-control-plane/internal/models"

// TransitionKind classifies how a signal changes a bot's position.
type TransitionKind int

const (
	// Open places one order from a neutral position.
	Open TransitionKind = iota
	// Flip closes the current position and opens the opposite one.
	Flip
	// Noop ignores a signal in the direction already held.
	Noop
)

func (k TransitionKind) String() string {
	switch k {
	case Open:
		return "open"
	case Flip:
		return "flip"
	case Noop:
		return "noop"
	default:
		return "unknown"
	}
}

// Transition is the plan for resolving a signal against a position.
// Close is only set for Flip.
type Transition struct {
	Kind  TransitionKind
	Close models.Action
	Open  models.Action
}

// Decide resolves action against the current position. Any position other
// than buy or sell is treated as neutral.
func Decide(current models.Position, action models.Action) Transition {
	held := models.Action(current)
	if current != models.PositionBuy && current != models.PositionSell {
		return Transition{Kind: Open, Open: action}
	}
	if held == action {
		return Transition{Kind: Noop}
	}
	return Transition{Kind: Flip, Close: held.Opposite(), Open: action}
}
