package fleet

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/mfshop/devfleet/spec"
)

// KnownServiceKinds is the set of service kinds built into devfleet.
// The empty kind means "process".
var KnownServiceKinds = map[string]bool{
	"":          true,
	"process":   true,
	"container": true,
}

// ValidateFleet checks a fleet definition for structural errors. Returns
// all errors found (not just the first) so the user can fix them in one
// pass.
func ValidateFleet(f *spec.Fleet) []string {
	var errs []string

	if f.Name == "" {
		errs = append(errs, "fleet name is required")
	}

	if len(f.Services) == 0 {
		errs = append(errs, "fleet must have at least one service")
	}

	if f.Primary == "" {
		errs = append(errs, "fleet must name a primary service")
	} else if _, ok := f.Services[f.Primary]; !ok {
		msg := fmt.Sprintf("primary %q is not a defined service", f.Primary)
		if suggestion := closestMatch(f.Primary, f.Services); suggestion != "" {
			msg += fmt.Sprintf(" (did you mean %q?)", suggestion)
		}
		errs = append(errs, msg)
	}

	for _, name := range sortedServiceNames(f.Services) {
		errs = append(errs, validateService(name, f.Services[name])...)
	}

	return errs
}

func validateService(name string, svc spec.Service) []string {
	var errs []string

	if name == "" {
		errs = append(errs, "service name cannot be empty")
	}

	if !KnownServiceKinds[svc.Kind] {
		errs = append(errs, fmt.Sprintf("service %q: unknown kind %q", name, svc.Kind))
	}

	if svc.Port < 0 || svc.Port > 65535 {
		errs = append(errs, fmt.Sprintf("service %q: port %d out of range", name, svc.Port))
	}

	if svc.Ready != nil {
		errs = append(errs, validateReady(name, svc)...)
	}

	return errs
}

func validateReady(name string, svc spec.Service) []string {
	var errs []string
	rs := svc.Ready

	switch {
	case rs.URL != "":
		u, err := url.Parse(rs.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("service %q: ready url %q is not a valid http(s) URL", name, rs.URL))
		}
	case svc.Port == 0:
		errs = append(errs, fmt.Sprintf("service %q: ready check needs a url or a declared port", name))
	}

	switch rs.Type {
	case "", "http", "tcp", "grpc":
	default:
		errs = append(errs, fmt.Sprintf("service %q: unknown ready type %q (must be one of: http, tcp, grpc)", name, rs.Type))
	}

	if rs.Interval.Duration < 0 {
		errs = append(errs, fmt.Sprintf("service %q: ready interval cannot be negative", name))
	}
	if rs.Timeout.Duration < 0 {
		errs = append(errs, fmt.Sprintf("service %q: ready timeout cannot be negative", name))
	}

	return errs
}

func sortedServiceNames(services map[string]spec.Service) []string {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// closestMatch returns the service name closest to target using simple
// edit distance, or "" if no name is close enough.
func closestMatch(target string, services map[string]spec.Service) string {
	best := ""
	bestDist := len(target)/2 + 1 // threshold: must be within half the length

	for name := range services {
		d := editDistance(target, name)
		if d < bestDist {
			bestDist = d
			best = name
		}
	}
	return best
}

func editDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, min(prev[j]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
