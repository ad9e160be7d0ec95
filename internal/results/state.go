package results

// State is the lifecycle of a Stream's single submission.
type State int

const (
	NotStarted State = iota
	InProgress
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}
