package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/mfshop/devfleet/fleet"
	"github.com/mfshop/devfleet/spec"
)

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	var file string
	fs.StringVar(&file, "f", "fleet.json", "fleet definition file")
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

	if problems := fleet.ValidateFleet(&f); len(problems) > 0 {
		return &fleet.ValidationError{Problems: problems}
	}

	dependents := f.Dependents()
	sort.Strings(dependents)
	fmt.Printf("%s: ok (%d dependents + primary %q)\n", file, len(dependents), f.Primary)
	return nil
}

func sortedNames(services map[string]spec.Service) []string {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
