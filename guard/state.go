package guard

// State is the access state of a navigation.
type State int

const (
	Unknown State = iota
	Checking
	Authenticated
	Anonymous
	Unauthenticated
	Forbidden
)

func (s State) String() string {
	switch s {
	case Checking:
		return "checking"
	case Authenticated:
		return "authenticated"
	case Anonymous:
		return "anonymous"
	case Unauthenticated:
		return "unauthenticated"
	case Forbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a navigation.
func (s State) Terminal() bool {
	return s >= Authenticated
}

// Granted reports whether the route content may be rendered.
func (s State) Granted() bool {
	return s == Authenticated || s == Anonymous
}
