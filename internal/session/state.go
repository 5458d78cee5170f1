package session

import "fmt"

// State is the lifecycle position of a Machine.
type State int

const (
	Disconnected State = iota
	Connecting
	ServiceDiscovery
	Idle
	Subscribing
	Active
	Unsubscribing
)

var stateNames = [...]string{
	Disconnected:     "Disconnected",
	Connecting:       "Connecting",
	ServiceDiscovery: "ServiceDiscovery",
	Idle:             "Idle",
	Subscribing:      "Subscribing",
	Active:           "Active",
	Unsubscribing:    "Unsubscribing",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Connected reports whether a Session exists in this state.
func (s State) Connected() bool {
	return s >= ServiceDiscovery
}
