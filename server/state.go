package server

// State is the controller's lifecycle position.
type State int32

const (
	Stopped State = iota
	Starting
	Listening
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Listening:
		return "listening"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// BindPolicy selects the interface the listener binds to. Deciding whether
// the process may expose itself is left to the caller.
type BindPolicy int

const (
	BindLoopback BindPolicy = iota
	BindAllInterfaces
)

func (b BindPolicy) host() string {
	if b == BindAllInterfaces {
		return "0.0.0.0"
	}
	return "127.0.0.1"
}

func (b BindPolicy) String() string {
	if b == BindAllInterfaces {
		return "all"
	}
	return "loopback"
}
