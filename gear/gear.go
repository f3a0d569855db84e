// Package gear holds the gear state machine of the shift emulator and the
// one-byte CAN frame it is reported in.
package gear

import "strconv"

// State is the selected gear. The numeric value is transmitted verbatim.
type State uint8

const (
	Neutral State = iota
	Gear1
	Gear2
	Gear3
	Gear4
	Gear5
	Gear6
)

// Count is the number of distinct states in the cycle.
const Count = int(Gear6) + 1

// All lists every state in cycle order, starting at Neutral.
var All = [Count]State{Neutral, Gear1, Gear2, Gear3, Gear4, Gear5, Gear6}

// Valid reports whether s is one of the seven defined states.
func (s State) Valid() bool { return s <= Gear6 }

func (s State) String() string {
	switch {
	case s == Neutral:
		return "N"
	case s.Valid():
		return strconv.Itoa(int(s))
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Advance returns the successor of s: Neutral, 1, ..., 6, then Neutral
// again. Values outside the cycle wrap to Neutral like Gear6.
func Advance(s State) State {
	if s >= Gear6 {
		return Neutral
	}
	return s + 1
}
