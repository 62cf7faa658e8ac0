package session

// State of the controller
type State int

const (
	Idle State = iota
	Loading
	Ready
	ConversationOpen
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case ConversationOpen:
		return "conversation-open"
	default:
		return "unknown"
	}
}
