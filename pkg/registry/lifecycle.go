package registry

import "fmt"

// TransitionRule defines an allowed lifecycle edge.
type TransitionRule struct {
	From Status
	To   Status
}

// DefaultTransitions defines the allowed lifecycle edges. Any non-terminal
// state may additionally move to error; error requires manual intervention
// and has no outgoing edges.
var DefaultTransitions = []TransitionRule{
	{From: StatusCreating, To: StatusActive},
	{From: StatusActive, To: StatusCopying},
	{From: StatusCopying, To: StatusActive},
	{From: StatusActive, To: StatusDeleting},
	{From: StatusDeleting, To: StatusSoftDeleted},
	{From: StatusDeleting, To: StatusPurged},
}

// Machine validates lifecycle state transitions.
type Machine struct {
	transitions []TransitionRule
}

// NewMachine creates a machine with the default edges.
func NewMachine() *Machine {
	return &Machine{transitions: DefaultTransitions}
}

// Validate checks whether the from->to edge is permitted. It returns nil
// when allowed and a *TransitionError otherwise.
func (m *Machine) Validate(from, to Status) error {
	if to == StatusError {
		if from.Terminal() {
			return &TransitionError{
				From:    from,
				To:      to,
				Message: fmt.Sprintf("cannot mark %s instance as failed", from),
			}
		}
		return nil
	}
	for _, t := range m.transitions {
		if t.From == from && t.To == to {
			return nil
		}
	}
	return &TransitionError{
		From:    from,
		To:      to,
		Message: fmt.Sprintf("no transition defined from %s to %s", from, to),
	}
}

// AllowedFrom returns all valid target states from the given state.
func (m *Machine) AllowedFrom(from Status) []Status {
	var allowed []Status
	for _, t := range m.transitions {
		if t.From == from {
			allowed = append(allowed, t.To)
		}
	}
	if !from.Terminal() {
		allowed = append(allowed, StatusError)
	}
	return allowed
}

// TransitionError is a structured error for illegal lifecycle edges.
type TransitionError struct {
	From    Status `json:"from"`
	To      Status `json:"to"`
	Message string `json:"message"`
}

func (e *TransitionError) Error() string {
	return e.Message
}
