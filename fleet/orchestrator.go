package fleet

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/matgreaves/run"
	"github.com/mfshop/devfleet/fleet/service"
	"github.com/mfshop/devfleet/spec"
)

// ValidationError aggregates every problem found in a fleet definition.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid fleet definition:\n  " + strings.Join(e.Problems, "\n  ")
}

// Orchestrator coordinates the lifecycle of all services in a fleet: the
// port preflight, the concurrent start of the dependents, the readiness
// gate in front of the primary, and the fail-fast teardown when anything
// exits. An Orchestrator runs one fleet once.
type Orchestrator struct {
	Registry *service.Registry
	Log      *EventLog

	// StallTimeout is how long the fleet may go without a lifecycle event
	// before the watchdog emits a diagnostic. Zero disables the watchdog.
	StallTimeout time.Duration

	mu        sync.Mutex
	fleetName string
	down      bool
	cancel    context.CancelFunc
	handles   map[string]service.Handle
}

// Orchestrate builds a run.Runner that manages the full lifecycle of the
// given fleet. The runner executes two phases sequentially:
//
//  1. Preflight: every declared port is probed with a TCP connect. Any
//     occupied port aborts the run before a single process is started.
//  2. Service phase: all dependents start concurrently; the primary starts
//     only after every dependent has reported ready. The first service
//     failure shuts the whole fleet down and becomes the runner's error.
func (o *Orchestrator) Orchestrate(f *spec.Fleet) (run.Runner, error) {
	if problems := ValidateFleet(f); len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	// Resolve every kind up front so an unknown kind fails before anything
	// touches the network.
	kinds := make(map[string]service.Kind, len(f.Services))
	for _, name := range sortedServiceNames(f.Services) {
		k, err := o.Registry.Get(f.Services[name].Kind)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", name, err)
		}
		kinds[name] = k
	}

	o.mu.Lock()
	o.fleetName = f.Name
	if o.handles == nil {
		o.handles = make(map[string]service.Handle)
	}
	o.mu.Unlock()

	preflightPhase := run.Func(func(ctx context.Context) error {
		o.Log.Publish(Event{Type: EventFleetPreflight, Fleet: f.Name})
		if conflicts := Preflight(ctx, f); len(conflicts) > 0 {
			return &PortConflictError{Conflicts: conflicts}
		}
		return nil
	})

	servicePhase := run.Func(func(ctx context.Context) error {
		return o.servicePhase(ctx, f, kinds)
	})

	return run.Sequence{preflightPhase, servicePhase}, nil
}

func (o *Orchestrator) servicePhase(ctx context.Context, f *spec.Fleet, kinds map[string]service.Kind) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	dependents := f.Dependents()
	sort.Strings(dependents)

	o.Log.Publish(Event{Type: EventFleetStarting, Fleet: f.Name})

	newContext := func(name string) *serviceContext {
		return &serviceContext{
			name:      name,
			spec:      f.Services[name],
			kind:      kinds[name],
			log:       o.Log,
			fleetName: f.Name,
			track:     o.track,
		}
	}

	type serviceErr struct {
		name string
		err  error
	}

	var wg sync.WaitGroup
	errs := make(chan serviceErr, len(dependents)+1)

	for _, name := range dependents {
		sc := newContext(name)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runService(ctx, sc); err != nil {
				errs <- serviceErr{name: sc.name, err: err}
			}
		}()
	}

	// The primary starts only after every dependent has reported ready.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := o.runPrimary(ctx, f, newContext(f.Primary), dependents); err != nil {
			errs <- serviceErr{name: f.Primary, err: err}
		}
	}()

	if o.StallTimeout > 0 {
		go progressWatchdog(ctx, o.Log, f, o.StallTimeout)
	}

	go func() {
		wg.Wait()
		close(errs)
	}()

	var cause error
	for e := range errs {
		if cause == nil {
			cause = e.err
			o.Shutdown(fmt.Sprintf("service %q failed: %v", e.name, e.err))
		}
		// Later errors come from services torn down by the shutdown; only
		// the root cause is reported.
	}

	o.Log.Publish(Event{Type: EventFleetTerminated, Fleet: f.Name})
	return cause
}

// runPrimary gates the primary service on the readiness of every dependent,
// then runs it. A clean primary exit shuts the rest of the fleet down.
func (o *Orchestrator) runPrimary(ctx context.Context, f *spec.Fleet, sc *serviceContext, dependents []string) error {
	o.Log.Publish(Event{Type: EventFleetAwaitingReady, Fleet: f.Name})

	for _, name := range dependents {
		if _, err := o.Log.WaitFor(ctx, func(e Event) bool {
			return e.Type == EventServiceReady && e.Fleet == f.Name && e.Service == name
		}); err != nil {
			// Teardown before the fleet became ready.
			return nil
		}
	}

	o.Log.Publish(Event{Type: EventFleetStartingPrimary, Fleet: f.Name})

	// Mark the fleet running once the primary itself reports ready.
	go func() {
		if _, err := o.Log.WaitFor(ctx, func(e Event) bool {
			return e.Type == EventServiceReady && e.Fleet == f.Name && e.Service == sc.name
		}); err == nil {
			o.Log.Publish(Event{Type: EventFleetRunning, Fleet: f.Name})
		}
	}()

	err := runService(ctx, sc)
	if err == nil && ctx.Err() == nil {
		o.Shutdown(fmt.Sprintf("primary %q exited", sc.name))
	}
	return err
}

// track registers a live handle. If shutdown already began, the late
// arrival is signalled immediately instead.
func (o *Orchestrator) track(name string, h service.Handle) {
	o.mu.Lock()
	if o.down {
		o.mu.Unlock()
		h.Terminate()
		return
	}
	o.handles[name] = h
	o.mu.Unlock()
}

// Shutdown signals every tracked service once and stops the fleet. Safe to
// call from any goroutine; calls after the first are no-ops.
func (o *Orchestrator) Shutdown(reason string) {
	o.mu.Lock()
	if o.down {
		o.mu.Unlock()
		return
	}
	o.down = true
	handles := make(map[string]service.Handle, len(o.handles))
	for name, h := range o.handles {
		handles[name] = h
	}
	fleetName := o.fleetName
	cancel := o.cancel
	o.mu.Unlock()

	o.Log.Publish(Event{Type: EventFleetShutdown, Fleet: fleetName, Reason: reason})

	names := make([]string, 0, len(handles))
	for name := range handles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		handles[name].Terminate()
	}

	if cancel != nil {
		cancel()
	}
}
