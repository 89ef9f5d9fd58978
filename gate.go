package msgsock

import "sync"

// State is the receive side state of a Service.
type State int

const (
	// Idle means no connection is held and the next one will be admitted.
	Idle State = iota
	// Active means a connection is admitted and its receive loop is running.
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// Gate holds at most one active connection. It is not a queue: a connection
// offered while another is held is refused and must be closed by the caller.
type Gate struct {
	mu     sync.Mutex
	active *Conn
}

// TryAdmit stores c as the active connection if none is held.
func (g *Gate) TryAdmit(c *Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active != nil {
		return false
	}
	g.active = c
	return true
}

// Release clears the active connection if it is still c, freeing the gate
// for the next admission. Releasing a connection that is not held does nothing.
func (g *Gate) Release(c *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active == c {
		g.active = nil
	}
}

// Active returns the held connection, or nil.
func (g *Gate) Active() *Conn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// State reports whether a connection is held.
func (g *Gate) State() State {
	if g.Active() != nil {
		return Active
	}
	return Idle
}
