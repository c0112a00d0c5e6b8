package spec

import "encoding/json"

// Fleet is the top-level declaration of everything one orchestration run
// manages: a set of dependent services plus the primary service that starts
// only after every dependent is ready.
type Fleet struct {
	// Name identifies the fleet definition.
	Name string `json:"name"`

	// Services maps service names to their descriptors. The primary is
	// declared here alongside the dependents.
	Services map[string]Service `json:"services"`

	// Primary names the entry in Services that is started last, after all
	// other services have passed their readiness checks.
	Primary string `json:"primary"`
}

// Dependents returns the names of all services except the primary.
// Order is unspecified; callers that need determinism must sort.
func (f *Fleet) Dependents() []string {
	names := make([]string, 0, len(f.Services))
	for name := range f.Services {
		if name == f.Primary {
			continue
		}
		names = append(names, name)
	}
	return names
}

// Service is the immutable descriptor of a single service to be started.
type Service struct {
	// Kind identifies how to start the service (e.g. "process",
	// "container"). Defaults to "process" when empty.
	Kind string `json:"kind,omitempty"`

	// Config holds kind-specific configuration as raw JSON.
	Config json.RawMessage `json:"config,omitempty"`

	// Args are command-line arguments passed to the service.
	// Supports template expansion against the service env
	// (e.g. "--port=${PORT}").
	Args []string `json:"args,omitempty"`

	// Env sets additional environment variables on the service, merged
	// over the orchestrator-provided ones.
	Env map[string]string `json:"env,omitempty"`

	// Port is the fixed TCP port the service binds, if any. Declared ports
	// are preflight-checked before anything starts, and exported to the
	// service as PORT.
	Port int `json:"port,omitempty"`

	// Ready configures the readiness probe. If nil, the service is
	// considered ready as soon as its process has started.
	Ready *ReadySpec `json:"ready,omitempty"`
}
