package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mfshop/devfleet/fleet"
	"github.com/mfshop/devfleet/fleet/service"
	"github.com/mfshop/devfleet/spec"
)

func runUp(args []string) error {
	fs := flag.NewFlagSet("up", flag.ContinueOnError)
	var (
		file   string
		record string
		stall  time.Duration
		quiet  bool
	)
	fs.StringVar(&file, "f", "fleet.json", "fleet definition file")
	fs.StringVar(&record, "record", "", "write all events to a JSONL file")
	fs.DurationVar(&stall, "stall", 15*time.Second, "report a stall after this long without progress (0 to disable)")
	fs.BoolVar(&quiet, "quiet", false, "suppress lifecycle status lines")
	if err := fs.Parse(args); err != nil {
		return err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	f, err := spec.DecodeFleet(data)
	if err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}

	reg := service.NewRegistry()
	reg.Register("process", service.Process{})
	reg.Register("container", service.Container{})

	log := fleet.NewEventLog()
	orch := &fleet.Orchestrator{
		Registry:     reg,
		Log:          log,
		StallTimeout: stall,
	}

	runner, err := orch.Orchestrate(&f)
	if err != nil {
		return err
	}

	// A signal asks for an orderly shutdown; the run then ends cleanly
	// with exit code 0.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		orch.Shutdown("received shutdown signal")
	}()

	renderCtx, renderCancel := context.WithCancel(context.Background())
	renderDone := make(chan struct{})
	go func() {
		defer close(renderDone)
		renderEvents(renderCtx, log, &f, quiet)
	}()

	runErr := runner.Run(ctx)

	// Every event is in the log by now; the renderer drains the tail
	// before it exits.
	renderCancel()
	<-renderDone

	if record != "" {
		if err := writeRecording(record, log.Events()); err != nil {
			fmt.Fprintf(os.Stderr, "devfleet up: write recording: %v\n", err)
		}
	}

	return runErr
}

// renderEvents streams the event log to the console: service output with a
// colored "[name]" prefix, and lifecycle transitions as dim status lines.
// It tracks its own cursor through the log so that, once the run is over
// and ctx is cancelled, it can drain every event published before the
// cancellation and exit without losing the tail.
func renderEvents(ctx context.Context, log *fleet.EventLog, f *spec.Fleet, quiet bool) {
	serviceIndex := map[string]int{}
	for i, name := range sortedNames(f.Services) {
		serviceIndex[name] = i
	}
	serviceColorTotal = len(serviceIndex)

	var cursor uint64
	for {
		for _, e := range log.Since(cursor) {
			renderEvent(e, serviceIndex, quiet)
			cursor = e.Seq
		}
		tail := cursor
		if _, err := log.WaitFor(ctx, func(e fleet.Event) bool { return e.Seq > tail }); err != nil {
			for _, e := range log.Since(cursor) {
				renderEvent(e, serviceIndex, quiet)
				cursor = e.Seq
			}
			return
		}
	}
}

func renderEvent(e fleet.Event, serviceIndex map[string]int, quiet bool) {
	switch {
	case e.Type == fleet.EventServiceLog && e.Log != nil:
		prefix := colorService("["+e.Service+"]", serviceIndex[e.Service])
		out := os.Stdout
		if e.Log.Stream == "stderr" {
			out = os.Stderr
		}
		fmt.Fprintf(out, "%s %s\n", prefix, e.Log.Line)

	case quiet:

	case e.Type == fleet.EventServiceExited:
		fmt.Fprintf(os.Stderr, "%s\n", dim(fmt.Sprintf("devfleet: %s exited with code %d", e.Service, e.ExitCode)))

	case e.Type == fleet.EventServiceFailed:
		fmt.Fprintf(os.Stderr, "%s\n", dim("devfleet: "+e.Error))

	default:
		fmt.Fprintf(os.Stderr, "%s\n", dim("devfleet: "+statusLine(e)))
	}
}

func statusLine(e fleet.Event) string {
	switch e.Type {
	case fleet.EventFleetPreflight:
		return "checking ports"
	case fleet.EventFleetStarting:
		return "starting services"
	case fleet.EventFleetAwaitingReady:
		return "waiting for services to become ready"
	case fleet.EventFleetStartingPrimary:
		return "all services ready, starting primary"
	case fleet.EventFleetRunning:
		return "fleet is up"
	case fleet.EventFleetShutdown:
		return "shutting down: " + e.Reason
	case fleet.EventFleetTerminated:
		return "all services stopped"
	case fleet.EventFleetStall:
		return e.Reason
	case fleet.EventServiceStarting:
		return e.Service + " starting"
	case fleet.EventServiceStarted:
		return e.Service + " started"
	case fleet.EventServiceReady:
		return e.Service + " ready"
	case fleet.EventServiceStopped:
		return e.Service + " stopped"
	default:
		return string(e.Type)
	}
}

// writeRecording dumps the full event log as JSONL, one event per line.
func writeRecording(path string, events []fleet.Event) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}
