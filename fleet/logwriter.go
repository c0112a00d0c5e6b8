package fleet

import (
	"bytes"
	"sync"
)

// logWriter is an io.Writer that publishes complete output lines from a
// service as service.log events. Partial writes are buffered until a
// newline is seen, so a line split across multiple writes is published
// once, intact.
//
// Safe for concurrent use.
type logWriter struct {
	log     *EventLog
	fleet   string
	service string
	stream  string

	mu  sync.Mutex
	buf bytes.Buffer
}

func newLogWriter(log *EventLog, fleet, service, stream string) *logWriter {
	return &logWriter{log: log, fleet: fleet, service: service, stream: stream}
}

// Write implements io.Writer. Buffers partial lines and publishes complete
// lines to the event log.
func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)

	// Flush all complete lines.
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// No newline found, put the partial line back.
			w.buf.Write(line)
			break
		}
		w.publish(string(bytes.TrimRight(line, "\r\n")))
	}

	return len(p), nil
}

// Flush publishes any remaining buffered data as a final line. Called after
// the service exits so trailing output without a newline is not lost.
func (w *logWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() > 0 {
		w.publish(w.buf.String())
		w.buf.Reset()
	}
}

func (w *logWriter) publish(line string) {
	if line == "" {
		return
	}
	w.log.Publish(Event{
		Type:    EventServiceLog,
		Fleet:   w.fleet,
		Service: w.service,
		Log:     &LogEntry{Stream: w.stream, Line: line},
	})
}
