package chat

import "github.com/omochice/roster-chat/pkg/protocol"

// Direction tells whether a logged frame was received or sent.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

// String returns the arrow the operator log uses for the direction.
func (d Direction) String() string {
	if d == Outbound {
		return "<--"
	}
	return "-->"
}

// Observer receives notifications for display and auditing. Callbacks run
// on Hub worker goroutines and must not block or call back into the Hub.
type Observer interface {
	ConnectionAccepted(c *Connection)
	FrameLogged(c *Connection, dir Direction, frame protocol.Frame)
	Registered(c *Connection)
	Departed(c *Connection, reason error)
	RosterChanged(roster []string)
}

// NopObserver ignores every notification. Embed it to implement only the
// callbacks you need.
type NopObserver struct{}

func (NopObserver) ConnectionAccepted(*Connection)                     {}
func (NopObserver) FrameLogged(*Connection, Direction, protocol.Frame) {}
func (NopObserver) Registered(*Connection)                             {}
func (NopObserver) Departed(*Connection, error)                        {}
func (NopObserver) RosterChanged([]string)                             {}

// Observers fans every notification out to each element in order.
type Observers []Observer

func (o Observers) ConnectionAccepted(c *Connection) {
	for _, ob := range o {
		ob.ConnectionAccepted(c)
	}
}

func (o Observers) FrameLogged(c *Connection, dir Direction, frame protocol.Frame) {
	for _, ob := range o {
		ob.FrameLogged(c, dir, frame)
	}
}

func (o Observers) Registered(c *Connection) {
	for _, ob := range o {
		ob.Registered(c)
	}
}

func (o Observers) Departed(c *Connection, reason error) {
	for _, ob := range o {
		ob.Departed(c, reason)
	}
}

func (o Observers) RosterChanged(roster []string) {
	for _, ob := range o {
		ob.RosterChanged(roster)
	}
}
