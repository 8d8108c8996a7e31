package profile

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a biometric profile. The state machine is
// small and closed: learning <-> active, any -> locked, locked -> learning
// (external unlock only). No profile ever starts active.
type Status int

const (
	StatusLearning Status = iota
	StatusActive
	StatusLocked
)

func (s Status) String() string {
	switch s {
	case StatusLearning:
		return "learning"
	case StatusActive:
		return "active"
	case StatusLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// ParseStatus maps a stored status name back to a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "learning":
		return StatusLearning, nil
	case "active":
		return StatusActive, nil
	case "locked":
		return StatusLocked, nil
	}
	return StatusLearning, fmt.Errorf("unknown profile status %q", s)
}

// ErrInvalidTransition reports an attempt to follow an edge the lifecycle
// does not define.
var ErrInvalidTransition = errors.New("invalid profile status transition")

// canTransition enumerates the legal edges.
func canTransition(from, to Status) bool {
	switch from {
	case StatusLearning:
		return to == StatusActive || to == StatusLocked
	case StatusActive:
		return to == StatusLearning || to == StatusLocked
	case StatusLocked:
		// Terminal until an external unlock resets to learning.
		return to == StatusLearning
	}
	return false
}
