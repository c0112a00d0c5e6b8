package ready

import (
	"context"
	"fmt"
	"time"

	"github.com/mfshop/devfleet/spec"
)

const (
	// DefaultInterval is the fixed poll interval between probes.
	DefaultInterval = 250 * time.Millisecond

	// DefaultTimeout is the default maximum wait for readiness.
	DefaultTimeout = 60 * time.Second
)

// Checker performs a single readiness probe against a fixed target.
type Checker interface {
	// Check performs one probe. A nil return means the service is ready.
	Check(ctx context.Context) error

	// Target returns a human-readable description of what is probed,
	// used in timeout errors.
	Target() string
}

// ForService returns the Checker configured by a service's ready spec,
// or nil if the service declares no probe. URL probes take precedence;
// otherwise the check type runs against 127.0.0.1:<port>.
func ForService(rs *spec.ReadySpec, port int) Checker {
	if rs == nil {
		return nil
	}
	if rs.URL != "" {
		return &HTTP{URL: rs.URL}
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	switch rs.Type {
	case "tcp":
		return &TCP{Addr: addr}
	case "grpc":
		return &GRPC{Addr: addr}
	default:
		path := rs.Path
		if path == "" {
			path = "/"
		}
		return &HTTP{URL: "http://" + addr + path}
	}
}

// TimeoutError reports that a target never became ready within the deadline.
type TimeoutError struct {
	Target  string
	Timeout time.Duration
	LastErr error
}

func (e *TimeoutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("%s not ready after %s (last error: %v)", e.Target, e.Timeout, e.LastErr)
	}
	return fmt.Sprintf("%s not ready after %s", e.Target, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.LastErr }

// Poll repeatedly calls checker.Check at a fixed interval until the check
// succeeds, the timeout elapses, or ctx is cancelled. Probe failures are
// swallowed and retried; only the deadline turns them into an error.
//
// If onFailure is non-nil it is called after each failed probe with the
// check error, giving the caller an opportunity to log or emit events.
func Poll(ctx context.Context, checker Checker, rs *spec.ReadySpec, onFailure func(err error)) error {
	timeout := DefaultTimeout
	interval := DefaultInterval

	if rs != nil {
		if rs.Timeout.Duration > 0 {
			timeout = rs.Timeout.Duration
		}
		if rs.Interval.Duration > 0 {
			interval = rs.Interval.Duration
		}
	}

	deadline := time.Now().Add(timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var lastErr error

	for {
		err := checker.Check(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if onFailure != nil {
			onFailure(err)
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return &TimeoutError{Target: checker.Target(), Timeout: timeout, LastErr: lastErr}
			}
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
