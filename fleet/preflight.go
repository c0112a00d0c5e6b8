package fleet

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/mfshop/devfleet/spec"
)

// preflightDialTimeout bounds each probe; a port with nothing listening
// refuses the connection almost immediately.
const preflightDialTimeout = 250 * time.Millisecond

// PortConflict identifies a declared port that is already bound.
type PortConflict struct {
	Service string
	Port    int
}

// PortConflictError aborts a run before any process is started: one or more
// declared ports are already in use, so starting the fleet could only end in
// a partially-started mess.
type PortConflictError struct {
	Conflicts []PortConflict
}

func (e *PortConflictError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = fmt.Sprintf("port %d (%s)", c.Port, c.Service)
	}
	return "already in use: " + strings.Join(parts, ", ")
}

// Preflight probes every declared port in the fleet (dependents and primary)
// with a TCP connect to 127.0.0.1. A successful connect means something is
// already listening there. Returns the occupied ports, in service-name order.
func Preflight(ctx context.Context, f *spec.Fleet) []PortConflict {
	var conflicts []PortConflict
	for _, name := range sortedServiceNames(f.Services) {
		port := f.Services[name].Port
		if port == 0 {
			continue
		}
		if portOccupied(ctx, port) {
			conflicts = append(conflicts, PortConflict{Service: name, Port: port})
		}
	}
	return conflicts
}

func portOccupied(ctx context.Context, port int) bool {
	d := net.Dialer{Timeout: preflightDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
