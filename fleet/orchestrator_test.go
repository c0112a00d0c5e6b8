package fleet_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/mfshop/devfleet/fleet"
	"github.com/mfshop/devfleet/fleet/ready"
	"github.com/mfshop/devfleet/fleet/service"
	"github.com/mfshop/devfleet/spec"
)

// moduleRoot returns the module root directory by finding go.mod.
func moduleRoot(t *testing.T) string {
	t.Helper()
	// We're in the fleet/ package; module root is one level up.
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	root := filepath.Dir(wd)
	if _, err := os.Stat(filepath.Join(root, "go.mod")); err != nil {
		t.Fatalf("could not find go.mod at %s: %v", root, err)
	}
	return root
}

// buildTestBinary compiles a test service binary and returns the path.
// srcDir is relative to the module root (e.g. "testdata/services/web").
func buildTestBinary(t *testing.T, srcDir string) string {
	t.Helper()
	root := moduleRoot(t)
	bin := filepath.Join(t.TempDir(), filepath.Base(srcDir))
	cmd := exec.Command("go", "build", "-o", bin, filepath.Join(root, srcDir))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("build %s: %v", srcDir, err)
	}
	return bin
}

func newTestOrchestrator(t *testing.T) *fleet.Orchestrator {
	t.Helper()
	reg := service.NewRegistry()
	reg.Register("process", service.Process{})

	return &fleet.Orchestrator{
		Registry: reg,
		Log:      fleet.NewEventLog(),
	}
}

// freePort reserves an ephemeral port and releases it for the test to use.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func processService(t *testing.T, bin string) spec.Service {
	t.Helper()
	return spec.Service{
		Kind:   "process",
		Config: mustJSON(t, service.ProcessConfig{Command: bin}),
	}
}

func findEventSeq(events []fleet.Event, eventType fleet.EventType, svc string) uint64 {
	for _, e := range events {
		if e.Type == eventType && e.Service == svc {
			return e.Seq
		}
	}
	return 0
}

func countEvents(events []fleet.Event, eventType fleet.EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func TestOrchestrate_PrimaryGatedOnReadiness(t *testing.T) {
	webBin := buildTestBinary(t, "testdata/services/web")
	waitBin := buildTestBinary(t, "testdata/services/wait")

	orch := newTestOrchestrator(t)

	api := processService(t, webBin)
	api.Port = freePort(t)
	api.Ready = &spec.ReadySpec{Path: "/health"}

	f := &spec.Fleet{
		Name: "test-gated",
		Services: map[string]spec.Service{
			"api": api,
			"db":  processService(t, waitBin), // no probe: ready at start
			"app": processService(t, waitBin),
		},
		Primary: "app",
	}

	runner, err := orch.Orchestrate(f)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	if _, err := orch.Log.WaitFor(ctx, func(e fleet.Event) bool {
		return e.Type == fleet.EventFleetRunning
	}); err != nil {
		t.Fatalf("waiting for fleet.running: %v", err)
	}

	orch.Shutdown("test done")

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run error after clean shutdown: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for shutdown")
	}

	// The primary must not start before every dependent reported ready.
	events := orch.Log.Events()
	apiReady := findEventSeq(events, fleet.EventServiceReady, "api")
	dbReady := findEventSeq(events, fleet.EventServiceReady, "db")
	primaryGate := findEventSeq(events, fleet.EventFleetStartingPrimary, "")
	appStarting := findEventSeq(events, fleet.EventServiceStarting, "app")

	if apiReady == 0 || dbReady == 0 {
		t.Fatalf("missing ready events: api=%d db=%d", apiReady, dbReady)
	}
	if primaryGate == 0 || appStarting == 0 {
		t.Fatalf("missing primary events: gate=%d starting=%d", primaryGate, appStarting)
	}
	if apiReady >= primaryGate || dbReady >= primaryGate {
		t.Errorf("dependents must be ready (api=%d, db=%d) before starting_primary (%d)",
			apiReady, dbReady, primaryGate)
	}
	if primaryGate >= appStarting {
		t.Errorf("starting_primary (%d) must precede the primary's start (%d)", primaryGate, appStarting)
	}
}

func TestOrchestrate_ChildExitCodePropagates(t *testing.T) {
	failBin := buildTestBinary(t, "testdata/services/fail")
	waitBin := buildTestBinary(t, "testdata/services/wait")

	orch := newTestOrchestrator(t)

	broken := processService(t, failBin)
	broken.Args = []string{"3"}
	broken.Env = map[string]string{"EXIT_AFTER": "300ms"}

	f := &spec.Fleet{
		Name: "test-exit-code",
		Services: map[string]spec.Service{
			"broken": broken,
			"other":  processService(t, waitBin),
			"app":    processService(t, waitBin),
		},
		Primary: "app",
	}

	runner, err := orch.Orchestrate(f)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err = runner.Run(ctx)
	if err == nil {
		t.Fatal("expected error from failed service")
	}

	var exitErr *service.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error %v (%T) is not an ExitError", err, err)
	}
	if exitErr.Code != 3 {
		t.Errorf("exit code = %d, want 3", exitErr.Code)
	}
	if exitErr.Service != "broken" {
		t.Errorf("failed service = %q, want \"broken\"", exitErr.Service)
	}

	// The failure must tear the rest of the fleet down.
	events := orch.Log.Events()
	if countEvents(events, fleet.EventFleetShutdown) != 1 {
		t.Errorf("expected exactly one fleet.shutdown event")
	}
	if findEventSeq(events, fleet.EventServiceStopped, "other") == 0 {
		t.Errorf("service \"other\" was not stopped during teardown")
	}
	if findEventSeq(events, fleet.EventFleetTerminated, "") == 0 {
		t.Errorf("missing fleet.terminated event")
	}
}

func TestOrchestrate_PreflightConflictAborts(t *testing.T) {
	webBin := buildTestBinary(t, "testdata/services/web")
	waitBin := buildTestBinary(t, "testdata/services/wait")

	// Occupy a port before the fleet starts.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	occupied := ln.Addr().(*net.TCPAddr).Port

	orch := newTestOrchestrator(t)

	api := processService(t, webBin)
	api.Port = occupied

	f := &spec.Fleet{
		Name: "test-conflict",
		Services: map[string]spec.Service{
			"api": api,
			"app": processService(t, waitBin),
		},
		Primary: "app",
	}

	runner, err := orch.Orchestrate(f)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = runner.Run(ctx)
	var conflictErr *fleet.PortConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("error %v (%T) is not a PortConflictError", err, err)
	}
	want := []fleet.PortConflict{{Service: "api", Port: occupied}}
	if len(conflictErr.Conflicts) != 1 || conflictErr.Conflicts[0] != want[0] {
		t.Errorf("conflicts = %v, want %v", conflictErr.Conflicts, want)
	}

	// Nothing may have been started.
	events := orch.Log.Events()
	if n := countEvents(events, fleet.EventServiceStarting); n != 0 {
		t.Errorf("%d services were started despite the preflight failure", n)
	}
	if n := countEvents(events, fleet.EventFleetStarting); n != 0 {
		t.Errorf("service phase began despite the preflight failure")
	}
}

func TestOrchestrate_ReadinessTimeout(t *testing.T) {
	webBin := buildTestBinary(t, "testdata/services/web")
	waitBin := buildTestBinary(t, "testdata/services/wait")

	orch := newTestOrchestrator(t)

	slow := processService(t, webBin)
	slow.Port = freePort(t)
	slow.Env = map[string]string{"READY_AFTER": "1m"}
	slow.Ready = &spec.ReadySpec{
		Path:     "/health",
		Interval: spec.Duration{Duration: 50 * time.Millisecond},
		Timeout:  spec.Duration{Duration: 500 * time.Millisecond},
	}

	f := &spec.Fleet{
		Name: "test-ready-timeout",
		Services: map[string]spec.Service{
			"slow": slow,
			"app":  processService(t, waitBin),
		},
		Primary: "app",
	}

	runner, err := orch.Orchestrate(f)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	err = runner.Run(ctx)
	elapsed := time.Since(start)

	var timeoutErr *ready.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("error %v (%T) is not a readiness TimeoutError", err, err)
	}
	if elapsed < 500*time.Millisecond {
		t.Errorf("run returned after %v, before the 500ms readiness timeout", elapsed)
	}

	// The primary must never have been started.
	events := orch.Log.Events()
	if findEventSeq(events, fleet.EventServiceStarting, "app") != 0 {
		t.Errorf("primary was started despite the readiness timeout")
	}
}

func TestOrchestrate_ValidationError(t *testing.T) {
	orch := newTestOrchestrator(t)

	f := &spec.Fleet{
		Name: "test-invalid",
		Services: map[string]spec.Service{
			"api": {Kind: "process"},
		},
		Primary: "ap", // typo
	}

	_, err := orch.Orchestrate(f)
	var vErr *fleet.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error %v (%T) is not a ValidationError", err, err)
	}
	found := false
	for _, p := range vErr.Problems {
		if p == fmt.Sprintf("primary %q is not a defined service (did you mean %q?)", "ap", "api") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a did-you-mean suggestion, got %v", vErr.Problems)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	waitBin := buildTestBinary(t, "testdata/services/wait")

	orch := newTestOrchestrator(t)

	f := &spec.Fleet{
		Name: "test-idempotent",
		Services: map[string]spec.Service{
			"a":   processService(t, waitBin),
			"b":   processService(t, waitBin),
			"app": processService(t, waitBin),
		},
		Primary: "app",
	}

	runner, err := orch.Orchestrate(f)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	if _, err := orch.Log.WaitFor(ctx, func(e fleet.Event) bool {
		return e.Type == fleet.EventFleetRunning
	}); err != nil {
		t.Fatalf("waiting for fleet.running: %v", err)
	}

	orch.Shutdown("first")
	orch.Shutdown("second")
	orch.Shutdown("third")

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run error after shutdown: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for shutdown")
	}

	events := orch.Log.Events()
	if n := countEvents(events, fleet.EventFleetShutdown); n != 1 {
		t.Errorf("fleet.shutdown published %d times, want 1", n)
	}
	for _, e := range events {
		if e.Type == fleet.EventFleetShutdown && e.Reason != "first" {
			t.Errorf("shutdown reason = %q, want \"first\"", e.Reason)
		}
	}
}

func TestOrchestrate_DependentExitsBeforeReady(t *testing.T) {
	failBin := buildTestBinary(t, "testdata/services/fail")
	waitBin := buildTestBinary(t, "testdata/services/wait")

	orch := newTestOrchestrator(t)

	// The dependent exits 0 right away, long before its check could pass.
	// The run must fail rather than wait out the readiness timeout.
	flaky := processService(t, failBin)
	flaky.Args = []string{"0"}
	flaky.Port = freePort(t)
	flaky.Ready = &spec.ReadySpec{
		Type:     "tcp",
		Interval: spec.Duration{Duration: 50 * time.Millisecond},
		Timeout:  spec.Duration{Duration: 10 * time.Second},
	}

	f := &spec.Fleet{
		Name: "test-exit-before-ready",
		Services: map[string]spec.Service{
			"flaky": flaky,
			"app":   processService(t, waitBin),
		},
		Primary: "app",
	}

	runner, err := orch.Orchestrate(f)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	err = runner.Run(ctx)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected error when a dependent exits before becoming ready")
	}
	if elapsed >= 10*time.Second {
		t.Errorf("run returned after %v; it waited out the readiness timeout instead of failing on exit", elapsed)
	}

	events := orch.Log.Events()
	if findEventSeq(events, fleet.EventServiceFailed, "flaky") == 0 {
		t.Errorf("missing service.failed event for the dependent")
	}
	if findEventSeq(events, fleet.EventServiceStarting, "app") != 0 {
		t.Errorf("primary was started although a dependent never became ready")
	}
}

func TestOrchestrate_PrimaryCleanExitStopsFleet(t *testing.T) {
	failBin := buildTestBinary(t, "testdata/services/fail")
	waitBin := buildTestBinary(t, "testdata/services/wait")

	orch := newTestOrchestrator(t)

	// The primary exits 0 shortly after starting; the fleet should wind
	// down cleanly.
	app := processService(t, failBin)
	app.Args = []string{"0"}
	app.Env = map[string]string{"EXIT_AFTER": "200ms"}

	f := &spec.Fleet{
		Name: "test-primary-exit",
		Services: map[string]spec.Service{
			"db":  processService(t, waitBin),
			"app": app,
		},
		Primary: "app",
	}

	runner, err := orch.Orchestrate(f)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := runner.Run(ctx); err != nil {
		t.Errorf("run error after clean primary exit: %v", err)
	}

	events := orch.Log.Events()
	if findEventSeq(events, fleet.EventServiceStopped, "db") == 0 {
		t.Errorf("dependent was not stopped after the primary exited")
	}
}
