package reporter

// State is the run phase of a Reporter.
type State int

// Run phases, in order.
const (
	Configuring State = iota
	Attached
	Running
	Draining
	Summarizing
	Done
)

func (s State) String() string {
	switch s {
	case Configuring:
		return "configuring"
	case Attached:
		return "attached"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Summarizing:
		return "summarizing"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}
