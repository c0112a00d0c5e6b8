package spec

import (
	"encoding/json"
	"time"
)

// ReadySpec configures the readiness probe for a service.
// Either URL or Type is set: URL probes that exact address over HTTP,
// Type probes 127.0.0.1:<service port> with the named check.
type ReadySpec struct {
	// URL is an HTTP(S) address to GET. Any response with a status in
	// [200,400) counts as ready; connection errors are retried.
	URL string `json:"url,omitempty"`

	// Type selects the check for port-based probes ("http", "tcp", "grpc").
	// Ignored when URL is set.
	Type string `json:"type,omitempty"`

	// Path is the HTTP GET path for port-based http checks. Default "/".
	Path string `json:"path,omitempty"`

	// Interval is the fixed poll interval. Default 250ms.
	Interval Duration `json:"interval,omitempty"`

	// Timeout is the maximum wait for the service to become ready.
	// Default 60s.
	Timeout Duration `json:"timeout,omitempty"`
}

// Duration wraps time.Duration with JSON marshalling as a string
// (e.g. "5s", "250ms") instead of nanoseconds.
type Duration struct {
	time.Duration
}

// IsZero reports whether d is the zero duration. Used by encoding/json
// (Go 1.24+) to evaluate omitempty on struct fields.
func (d Duration) IsZero() bool {
	return d.Duration == 0
}

func (d Duration) MarshalJSON() ([]byte, error) {
	if d.Duration == 0 {
		return []byte(`""`), nil
	}
	return json.Marshal(d.Duration.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}
