package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"syscall"
)

// PortInUseError is returned when the listening port is held by another
// process or server instance.
type PortInUseError struct {
	Host string
	Port int
	Err  error
}

func (e *PortInUseError) Error() string {
	return fmt.Sprintf("port %d on %s is already in use", e.Port, e.Host)
}

func (e *PortInUseError) Unwrap() error { return e.Err }

// IsPortInUse reports whether err is a *PortInUseError.
func IsPortInUse(err error) bool {
	var p *PortInUseError
	return errors.As(err, &p)
}

// ProbePort binds the exact host:port and releases it immediately. A port
// held elsewhere yields *PortInUseError; other bind failures are returned
// wrapped.
func ProbePort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return classifyListenError(host, port, err)
	}
	return ln.Close()
}

func classifyListenError(host string, port int, err error) error {
	if isAddrInUse(err) {
		return &PortInUseError{Host: host, Port: port, Err: err}
	}
	return fmt.Errorf("failed to bind %s: %w", net.JoinHostPort(host, strconv.Itoa(port)), err)
}

func isAddrInUse(err error) bool {
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	// Windows reports WSAEADDRINUSE, which does not match the errno above.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "address already in use") ||
		strings.Contains(msg, "only one usage of each socket address")
}
