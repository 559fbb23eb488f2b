package discovery

// State of a discovery session.
type State int

const (
	Created State = iota
	Initialized
	SessionActive
	SessionEnded
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Initialized:
		return "Initialized"
	case SessionActive:
		return "SessionActive"
	case SessionEnded:
		return "SessionEnded"
	default:
		return "Unknown"
	}
}
