package connection

// State is the lifecycle state of a connection to a test host.
// Transitions are monotonic, apart from Faulted moving to Terminated on cleanup.
type State int

const (
	Uninitialized State = iota
	Connecting
	Connected
	Faulted
	Terminated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Faulted:
		return "Faulted"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}
