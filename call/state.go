package call

import "fmt"

// CallState is the controller's position in the call lifecycle.
type CallState int

const (
	// StateIdle is passively listening for an inbound connection.
	StateIdle CallState = iota
	// StateDialing is actively attempting an outbound connection.
	StateDialing
	// StateActive has a connection and running stream workers.
	StateActive
	// StateTearingDown is stopping workers and closing the connection before returning to idle.
	StateTearingDown
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDialing:
		return "dialing"
	case StateActive:
		return "active"
	case StateTearingDown:
		return "tearing down"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// TeardownReason tells why an active call ended.
type TeardownReason int

const (
	ReasonNone TeardownReason = iota
	// ReasonHangUp is a local hang-up request.
	ReasonHangUp
	// ReasonPeerClosed is end-of-stream on the downlink.
	ReasonPeerClosed
	// ReasonConnectionError is a socket read or write failure.
	ReasonConnectionError
	// ReasonDeviceError is a capture or playback failure mid-call.
	ReasonDeviceError
	// ReasonShutdown is the controller being stopped.
	ReasonShutdown
)

func (r TeardownReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonHangUp:
		return "hang up"
	case ReasonPeerClosed:
		return "peer closed"
	case ReasonConnectionError:
		return "connection error"
	case ReasonDeviceError:
		return "device error"
	case ReasonShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// Role is how the connection of a call was obtained.
type Role int

const (
	RoleListen Role = iota
	RoleDial
)

func (r Role) String() string {
	if r == RoleDial {
		return "dial"
	}
	return "listen"
}
