package orchestrator

// State is a step of the connection handshake.
type State int

const (
	StateIdle State = iota
	StateAdapterInitializing
	StateCheckingExisting
	StateScanning
	StateConnecting
	StateDiscoveringServices
	StateMatchingCharacteristics
	StateSubscribingNotify
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAdapterInitializing:
		return "AdapterInitializing"
	case StateCheckingExisting:
		return "CheckingExisting"
	case StateScanning:
		return "Scanning"
	case StateConnecting:
		return "Connecting"
	case StateDiscoveringServices:
		return "DiscoveringServices"
	case StateMatchingCharacteristics:
		return "MatchingCharacteristics"
	case StateSubscribingNotify:
		return "SubscribingNotify"
	case StateReady:
		return "Ready"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateReady || s == StateFailed
}

// Observer receives every state transition of a Connect call.
type Observer func(identifier string, from, to State)
