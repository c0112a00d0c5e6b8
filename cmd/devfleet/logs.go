package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"
)

const typeServiceLog = "service.log"

type logEntry struct {
	Stream string `json:"stream"` // "stdout" or "stderr"
	Line   string `json:"line"`
}

// logEvent is the subset of a recorded JSONL event we need for log display.
type logEvent struct {
	Seq       uint64    `json:"seq"`
	Type      string    `json:"type"`
	Service   string    `json:"service"`
	Log       *logEntry `json:"log,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// logRow is a parsed log line ready for display.
type logRow struct {
	Time    string
	Service string
	Stream  string
	Line    string
}

func runLogs(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	var (
		svc    string
		stderr bool
		stdout bool
		grep   string
	)
	fs.StringVar(&svc, "service", "", "filter to a specific service")
	fs.BoolVar(&stderr, "stderr", false, "only show stderr output")
	fs.BoolVar(&stdout, "stdout", false, "only show stdout output")
	fs.StringVar(&grep, "grep", "", "filter lines matching regex pattern")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("missing JSONL file argument\n\nUsage: devfleet logs [flags] <file.jsonl>")
	}
	filename := fs.Arg(0)

	var grepRe *regexp.Regexp
	if grep != "" {
		var err error
		grepRe, err = regexp.Compile(grep)
		if err != nil {
			return fmt.Errorf("invalid --grep pattern %q: %v", grep, err)
		}
	}

	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	events, err := parseLogEvents(f)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Fprintln(os.Stderr, "No log events found.")
		return nil
	}

	// Build service → color index map in order of first appearance.
	serviceIndex := map[string]int{}
	for _, ev := range events {
		if _, ok := serviceIndex[ev.Service]; !ok {
			serviceIndex[ev.Service] = len(serviceIndex)
		}
	}

	maxName := 0
	for name := range serviceIndex {
		if len(name) > maxName {
			maxName = len(name)
		}
	}

	t0 := events[0].Timestamp
	rows := make([]logRow, 0, len(events))
	for _, ev := range events {
		row := logRow{
			Time:    fmt.Sprintf("%.3fs", ev.Timestamp.Sub(t0).Seconds()),
			Service: ev.Service,
			Stream:  ev.Log.Stream,
			Line:    ev.Log.Line,
		}

		if svc != "" && !strings.EqualFold(row.Service, svc) {
			continue
		}
		if stderr && row.Stream != "stderr" {
			continue
		}
		if stdout && row.Stream != "stdout" {
			continue
		}
		if grepRe != nil && !grepRe.MatchString(row.Line) {
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "No matching log events.")
		return nil
	}

	serviceColorTotal = len(serviceIndex)
	renderLogs(os.Stdout, rows, serviceIndex, maxName)
	return nil
}

func parseLogEvents(r io.Reader) ([]logEvent, error) {
	var events []logEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev logEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if ev.Type == typeServiceLog && ev.Log != nil {
			events = append(events, ev)
		}
	}
	return events, scanner.Err()
}

func renderLogs(w io.Writer, rows []logRow, serviceIndex map[string]int, maxName int) {
	for _, r := range rows {
		name := fmt.Sprintf("%-*s", maxName, r.Service)
		fmt.Fprintf(w, "%s  %s  %s\n", dim(r.Time), colorService(name, serviceIndex[r.Service]), r.Line)
	}
}
