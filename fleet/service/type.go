package service

import (
	"fmt"
	"io"
	"sort"

	"github.com/matgreaves/run"
	"github.com/mfshop/devfleet/spec"
)

// StartParams provides the context a kind needs to start a service.
type StartParams struct {
	FleetName   string
	ServiceName string
	Spec        spec.Service
	Env         map[string]string // pre-built environment variables
	Args        []string          // pre-expanded command arguments
	Stdout      io.Writer
	Stderr      io.Writer

	// OnStart is called once the underlying process (or container) is
	// live, with a handle the orchestrator tracks for shutdown.
	// May be nil.
	OnStart func(Handle)
}

// Handle is a live process registered with the orchestrator. The
// orchestrator holds the only references; nothing else signals the process.
type Handle interface {
	// Terminate asks the process to shut down. Idempotent and
	// best-effort; it never blocks waiting for the exit.
	Terminate()
}

// Kind defines how a service kind starts and supervises its process.
type Kind interface {
	// Runner returns a run.Runner that starts and runs the service.
	// The runner blocks until the service exits or ctx is cancelled.
	// A non-zero exit surfaces as an *ExitError.
	Runner(params StartParams) run.Runner
}

// ExitError reports that a service's process exited with a non-zero status.
type ExitError struct {
	Service string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("service %q exited with code %d", e.Service, e.Code)
}

// Registry maps service kind names to their implementations.
type Registry struct {
	kinds map[string]Kind
}

// NewRegistry creates a registry with no kinds registered.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Kind)}
}

// Register adds a service kind to the registry.
func (r *Registry) Register(name string, k Kind) {
	r.kinds[name] = k
}

// Get returns the service kind for the given name, or an error if not found.
// The empty name resolves to "process".
func (r *Registry) Get(name string) (Kind, error) {
	if name == "" {
		name = "process"
	}
	k, ok := r.kinds[name]
	if !ok {
		return nil, fmt.Errorf("unknown service kind: %q", name)
	}
	return k, nil
}

// Names returns the registered kind names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// envMapToSlice flattens an env map to KEY=VALUE form, sorted for
// deterministic child environments.
func envMapToSlice(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
