package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mfshop/devfleet/fleet/ready"
	"github.com/mfshop/devfleet/fleet/service"
	"github.com/mfshop/devfleet/spec"
)

// serviceContext holds the resolved state for a single service during its run.
type serviceContext struct {
	name      string
	spec      spec.Service
	kind      service.Kind
	log       *EventLog
	fleetName string

	// track registers the live handle with the orchestrator so Shutdown
	// can signal it.
	track func(name string, h service.Handle)

	mu     sync.Mutex
	handle service.Handle
}

func (sc *serviceContext) setHandle(h service.Handle) {
	sc.mu.Lock()
	sc.handle = h
	sc.mu.Unlock()
}

// terminate signals our own process. Used when the readiness check gives up
// on a process that is still running.
func (sc *serviceContext) terminate() {
	sc.mu.Lock()
	h := sc.handle
	sc.mu.Unlock()
	if h != nil {
		h.Terminate()
	}
}

// runService runs one service to completion: the starting event, process
// supervision, readiness polling, and the exit events.
//
// Returns nil on a clean exit or on teardown (the surrounding context was
// cancelled), an *service.ExitError when the process exits non-zero, and
// the readiness error when the service never became ready in time.
func runService(ctx context.Context, sc *serviceContext) error {
	sc.publish(Event{Type: EventServiceStarting})

	env := BuildServiceEnv(sc.fleetName, sc.name, sc.spec)
	args := ExpandTemplates(sc.spec.Args, env)

	stdout := newLogWriter(sc.log, sc.fleetName, sc.name, "stdout")
	stderr := newLogWriter(sc.log, sc.fleetName, sc.name, "stderr")
	defer stdout.Flush()
	defer stderr.Flush()

	runner := sc.kind.Runner(service.StartParams{
		FleetName:   sc.fleetName,
		ServiceName: sc.name,
		Spec:        sc.spec,
		Env:         env,
		Args:        args,
		Stdout:      stdout,
		Stderr:      stderr,
		OnStart: func(h service.Handle) {
			sc.setHandle(h)
			if sc.track != nil {
				sc.track(sc.name, h)
			}
			sc.publish(Event{Type: EventServiceStarted})
		},
	})

	procCh := make(chan error, 1)
	go func() { procCh <- runner.Run(ctx) }()

	readyCh := make(chan error, 1)
	go func() { readyCh <- sc.awaitReady(ctx) }()

	var readyErr error
	becameReady := false
	for {
		select {
		case err := <-procCh:
			// The probe may have succeeded in the same instant the
			// process exited; harvest a pending result before deciding.
			if readyCh != nil {
				select {
				case rerr := <-readyCh:
					if rerr == nil {
						becameReady = true
						sc.publish(Event{Type: EventServiceReady})
					}
				default:
				}
			}
			return sc.classifyExit(ctx, err, readyErr, becameReady)

		case err := <-readyCh:
			readyCh = nil // only fires once
			if err == nil {
				becameReady = true
				sc.publish(Event{Type: EventServiceReady})
				continue
			}
			if ctx.Err() != nil {
				// Teardown already under way; the process exit will
				// arrive on procCh.
				continue
			}
			readyErr = fmt.Errorf("service %q: %w", sc.name, err)
			sc.publish(Event{Type: EventServiceFailed, Error: readyErr.Error()})
			// Give up on the process, then wait for its exit.
			sc.terminate()
		}
	}
}

// awaitReady blocks until the service is ready. A service with no probe is
// ready as soon as its process has started.
func (sc *serviceContext) awaitReady(ctx context.Context) error {
	checker := ready.ForService(sc.spec.Ready, sc.spec.Port)
	if checker == nil {
		_, err := sc.log.WaitFor(ctx, func(e Event) bool {
			return e.Type == EventServiceStarted && e.Fleet == sc.fleetName && e.Service == sc.name
		})
		return err
	}
	return ready.Poll(ctx, checker, sc.spec.Ready, nil)
}

// classifyExit turns the runner's exit into the right event and return
// value. Teardown exits are not errors; they are the fleet shutting down.
func (sc *serviceContext) classifyExit(ctx context.Context, err, readyErr error, becameReady bool) error {
	switch {
	case readyErr != nil:
		// We stopped the process ourselves after the ready check gave up.
		sc.publish(Event{Type: EventServiceStopped})
		return readyErr
	case ctx.Err() != nil:
		sc.publish(Event{Type: EventServiceStopped})
		return nil
	case err == nil:
		if !becameReady && sc.spec.Ready != nil {
			// A clean exit before the declared check passed still means
			// the service never came up. Anyone waiting on its ready
			// event would wait forever.
			ferr := fmt.Errorf("service %q exited before its readiness check passed", sc.name)
			sc.publish(Event{Type: EventServiceFailed, Error: ferr.Error()})
			return ferr
		}
		sc.publish(Event{Type: EventServiceStopped})
		return nil
	}

	var exitErr *service.ExitError
	if errors.As(err, &exitErr) {
		sc.publish(Event{Type: EventServiceExited, ExitCode: exitErr.Code, Error: err.Error()})
		return err
	}

	sc.publish(Event{Type: EventServiceFailed, Error: err.Error()})
	return fmt.Errorf("service %q: %w", sc.name, err)
}

func (sc *serviceContext) publish(e Event) {
	e.Fleet = sc.fleetName
	e.Service = sc.name
	sc.log.Publish(e)
}
