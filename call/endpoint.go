package call

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is used for both listening and dialing when nothing else is configured.
const DefaultPort = 9999

// ErrInvalidEndpoint reports a malformed "host:port" string.
var ErrInvalidEndpoint = errors.New("need <ip>:<port>")

// Endpoint is a remote or local address.
type Endpoint struct {
	Host string
	Port int
}

// DefaultEndpoint listens on all interfaces at DefaultPort.
var DefaultEndpoint = Endpoint{Port: DefaultPort}

// ParseEndpoint parses "host:port". The string must contain exactly one ':' and the port must be a
// decimal number between 1 and 65535. The host may be empty.
func ParseEndpoint(s string) (Endpoint, error) {
	if strings.Count(s, ":") != 1 {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrInvalidEndpoint, s)
	}
	host, portStr, _ := strings.Cut(s, ":")
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 || strings.ContainsAny(portStr, "+-") {
		return Endpoint{}, fmt.Errorf("%w: bad port %q", ErrInvalidEndpoint, portStr)
	}
	return Endpoint{Host: host, Port: port}, nil
}

// Address returns the endpoint in net.Dial form.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Host + ":" + strconv.Itoa(e.Port)
}
