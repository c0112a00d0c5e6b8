package fleet

import (
	"strings"
	"testing"

	"github.com/mfshop/devfleet/spec"
)

func validFleet() *spec.Fleet {
	return &spec.Fleet{
		Name: "shop",
		Services: map[string]spec.Service{
			"api":  {Kind: "process", Port: 3001, Ready: &spec.ReadySpec{Path: "/health"}},
			"auth": {Kind: "process", Port: 3002},
			"app":  {Kind: "process"},
		},
		Primary: "app",
	}
}

func TestValidateFleet_Valid(t *testing.T) {
	if problems := ValidateFleet(validFleet()); len(problems) != 0 {
		t.Errorf("unexpected problems: %v", problems)
	}
}

func TestValidateFleet_AggregatesProblems(t *testing.T) {
	f := validFleet()
	f.Name = ""
	f.Primary = ""
	svc := f.Services["api"]
	svc.Kind = "podman"
	f.Services["api"] = svc

	problems := ValidateFleet(f)
	if len(problems) != 3 {
		t.Fatalf("expected 3 problems, got %d: %v", len(problems), problems)
	}
}

func TestValidateFleet_PrimarySuggestion(t *testing.T) {
	f := validFleet()
	f.Primary = "ap"

	problems := ValidateFleet(f)
	if len(problems) != 1 {
		t.Fatalf("expected 1 problem, got %v", problems)
	}
	if !strings.Contains(problems[0], `did you mean`) {
		t.Errorf("expected a suggestion, got %q", problems[0])
	}
}

func TestValidateFleet_PortRange(t *testing.T) {
	f := validFleet()
	svc := f.Services["api"]
	svc.Port = 70000
	f.Services["api"] = svc

	problems := ValidateFleet(f)
	if len(problems) != 1 || !strings.Contains(problems[0], "out of range") {
		t.Errorf("problems = %v", problems)
	}
}

func TestValidateFleet_ReadyNeedsTarget(t *testing.T) {
	f := validFleet()
	f.Services["worker"] = spec.Service{
		Kind:  "process",
		Ready: &spec.ReadySpec{}, // no url, no port
	}

	problems := ValidateFleet(f)
	if len(problems) != 1 || !strings.Contains(problems[0], "needs a url or a declared port") {
		t.Errorf("problems = %v", problems)
	}
}

func TestValidateFleet_ReadyURL(t *testing.T) {
	f := validFleet()
	svc := f.Services["auth"]
	svc.Ready = &spec.ReadySpec{URL: "not a url"}
	f.Services["auth"] = svc

	problems := ValidateFleet(f)
	if len(problems) != 1 || !strings.Contains(problems[0], "not a valid http(s) URL") {
		t.Errorf("problems = %v", problems)
	}

	svc.Ready = &spec.ReadySpec{URL: "http://127.0.0.1:3002/health"}
	f.Services["auth"] = svc
	if problems := ValidateFleet(f); len(problems) != 0 {
		t.Errorf("valid url rejected: %v", problems)
	}
}

func TestValidateFleet_UnknownReadyType(t *testing.T) {
	f := validFleet()
	svc := f.Services["auth"]
	svc.Ready = &spec.ReadySpec{Type: "udp"}
	f.Services["auth"] = svc

	problems := ValidateFleet(f)
	if len(problems) != 1 || !strings.Contains(problems[0], `unknown ready type "udp"`) {
		t.Errorf("problems = %v", problems)
	}
}

func TestEditDistance(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"api", "ap", 1},
		{"kitten", "sitting", 3},
	}
	for _, c := range cases {
		if got := editDistance(c.a, c.b); got != c.want {
			t.Errorf("editDistance(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
