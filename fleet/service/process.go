package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/matgreaves/run"
)

// terminateGrace is how long a process has after SIGTERM before it is killed.
const terminateGrace = 10 * time.Second

// ProcessConfig is the kind-specific config for "process" services.
type ProcessConfig struct {
	// Command is the program to execute. Resolved via PATH if not absolute.
	Command string `json:"command"`

	// Dir is the working directory. Optional.
	Dir string `json:"dir,omitempty"`
}

// Process implements Kind for the "process" service kind. It runs an
// external program in its working directory, stdin inherited, output
// streamed to the provided writers.
type Process struct{}

// Runner returns a run.Runner that executes the configured program and
// blocks until it exits. A non-zero exit returns an *ExitError carrying
// the code; a shutdown-triggered exit returns ctx's error.
func (Process) Runner(params StartParams) run.Runner {
	var cfg ProcessConfig
	if params.Spec.Config != nil {
		if err := json.Unmarshal(params.Spec.Config, &cfg); err != nil {
			return run.Func(func(context.Context) error {
				return fmt.Errorf("service %q: invalid process config: %w", params.ServiceName, err)
			})
		}
	}

	return run.Func(func(ctx context.Context) error {
		if cfg.Command == "" {
			return fmt.Errorf("service %q: process config missing required \"command\" field", params.ServiceName)
		}

		cmd := exec.CommandContext(ctx, cfg.Command, params.Args...)
		cmd.Dir = cfg.Dir
		cmd.Env = append(os.Environ(), envMapToSlice(params.Env)...)
		cmd.Stdin = os.Stdin
		cmd.Stdout = params.Stdout
		cmd.Stderr = params.Stderr

		handle := &procHandle{cmd: cmd}
		cmd.Cancel = func() error {
			handle.Terminate()
			return nil
		}
		cmd.WaitDelay = terminateGrace

		if err := cmd.Start(); err != nil {
			return fmt.Errorf("service %q: start %s: %w", params.ServiceName, cfg.Command, err)
		}

		if params.OnStart != nil {
			params.OnStart(handle)
		}

		err := cmd.Wait()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			// Teardown path: the exit was provoked by the orchestrator.
			return ctx.Err()
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			if code < 0 {
				// Killed by an external signal; no real status to propagate.
				code = 1
			}
			return &ExitError{Service: params.ServiceName, Code: code}
		}
		return fmt.Errorf("service %q: %w", params.ServiceName, err)
	})
}

// procHandle terminates an OS process at most once.
type procHandle struct {
	cmd  *exec.Cmd
	once sync.Once
}

func (h *procHandle) Terminate() {
	h.once.Do(func() {
		if h.cmd.Process != nil {
			h.cmd.Process.Signal(syscall.SIGTERM)
		}
	})
}
