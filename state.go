package chronovoice

type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Snapshot is the read model a UI renders from.
type Snapshot struct {
	State ConnectionState
	// Error is the message of the last fatal failure, empty otherwise.
	Error  string
	Volume float64
	// IsPlaying mirrors the visualizer contract: true while connected.
	IsPlaying bool
	SessionID string
}
