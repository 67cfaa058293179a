package algorithm

import "github.com/pkg/errors"

// State is the lifecycle stage of an Algorithm.
type State int

const (
	Uninitialized State = iota
	Loaded
	Training
	Checkpointed
	Evaluating
	Terminal
)

var stateNames = []string{"Uninitialized", "Loaded", "Training", "Checkpointed",
	"Evaluating", "Terminal"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(?)"
}

var transitions = map[State][]State{
	Uninitialized: {Loaded},
	Loaded:        {Training, Evaluating, Terminal},
	Training:      {Checkpointed, Terminal},
	Checkpointed:  {Training, Evaluating, Terminal},
	Evaluating:    {Terminal},
}

// ErrTransition is the cause of errors from operations
// invoked in the wrong state.
var ErrTransition = errors.New("invalid state transition")

func (a *Algorithm) transition(to State) error {
	for _, allowed := range transitions[a.state] {
		if allowed == to {
			a.logger.Debug("state transition", zapState("from", a.state), zapState("to", to))
			a.state = to
			return nil
		}
	}
	return errors.Wrapf(ErrTransition, "%s -> %s", a.state, to)
}

// State returns the current state.
func (a *Algorithm) State() State {
	return a.state
}
