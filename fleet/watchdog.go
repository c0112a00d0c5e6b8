package fleet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mfshop/devfleet/spec"
)

// progressWatchdog monitors the event log for progress stalls. If no new
// lifecycle events appear within stallTimeout, it publishes a fleet.stall
// event naming which services are stuck and in what phase, so a hung
// readiness check is diagnosable from the console instead of silent.
//
// The goroutine exits when ctx is cancelled or when every service has
// reached a terminal phase.
func progressWatchdog(ctx context.Context, log *EventLog, f *spec.Fleet, stallTimeout time.Duration) {
	ticker := time.NewTicker(stallTimeout)
	defer ticker.Stop()

	var lastMaxSeq uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		events := log.LifecycleEvents()
		var maxSeq uint64
		for _, e := range events {
			if e.Seq > maxSeq {
				maxSeq = e.Seq
			}
		}

		if maxSeq == lastMaxSeq && len(events) > 0 {
			stuck := stuckServices(events, f)
			if len(stuck) == 0 {
				// Everything is ready or already down; nothing to report.
				return
			}
			log.Publish(Event{
				Type:   EventFleetStall,
				Fleet:  f.Name,
				Reason: formatStallReason(stallTimeout, stuck),
			})
		}

		lastMaxSeq = maxSeq
	}
}

type stuckService struct {
	Name  string
	Phase string
}

// phaseFromEvents returns the current phase for a service based on its most
// recent lifecycle event.
func phaseFromEvents(serviceName string, events []Event) string {
	phase := "pending"
	for _, e := range events {
		if e.Service != serviceName {
			continue
		}
		switch e.Type {
		case EventServiceStarting:
			phase = "starting"
		case EventServiceStarted:
			phase = "started"
		case EventServiceReady:
			phase = "ready"
		case EventServiceFailed:
			phase = "failed"
		case EventServiceExited:
			phase = "exited"
		case EventServiceStopped:
			phase = "stopped"
		}
	}
	return phase
}

// stuckServices returns every service that has not yet reached a terminal
// phase, in name order. The primary waiting on its dependents counts as
// pending, which is exactly the state worth surfacing.
func stuckServices(events []Event, f *spec.Fleet) []stuckService {
	var stuck []stuckService
	for _, name := range sortedServiceNames(f.Services) {
		phase := phaseFromEvents(name, events)
		switch phase {
		case "ready", "failed", "exited", "stopped":
			continue
		}
		stuck = append(stuck, stuckService{Name: name, Phase: phase})
	}
	return stuck
}

func formatStallReason(stalledFor time.Duration, stuck []stuckService) string {
	var b strings.Builder
	fmt.Fprintf(&b, "no progress for %s:", stalledFor)
	for _, s := range stuck {
		fmt.Fprintf(&b, "\n  %s: %s", s.Name, s.Phase)
	}
	return b.String()
}
