package vm

import (
	"fmt"

	"github.com/scrawlvm/scrawl/pkg/opcode"
)

// Severity tags a trace event.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

// String returns a human-readable severity name.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarn:
		return "WARN"
	case SeverityError:
		return "ERROR"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// TraceEvent is one observation emitted during dispatch. Events are
// ephemeral: the engine hands them to registered sinks and keeps them in
// the batch result, nothing more.
type TraceEvent struct {
	Domain   opcode.Domain
	Type     string
	Severity Severity
	PC       int
	Context  int
	Seq      uint64 // session-wide ordering index
	Message  string
}

// String renders an event the way the audit examples print them.
func (e TraceEvent) String() string {
	return fmt.Sprintf("[%-5s] %s.%s: %s", e.Severity, e.Domain, e.Type, e.Message)
}

// TraceSink consumes trace events. Sinks are owned by the session and
// registered through an explicit API; there is no ambient global registry.
// Emit is called from the dispatch goroutine and should return quickly.
type TraceSink interface {
	Emit(TraceEvent)
}

// TraceFunc adapts a plain function to the TraceSink interface.
type TraceFunc func(TraceEvent)

// Emit implements TraceSink.
func (f TraceFunc) Emit(e TraceEvent) { f(e) }

// AddTraceSink registers a sink and returns a handle for removal.
func (s *Session) AddTraceSink(sink TraceSink) int {
	handle := s.nextSink
	s.nextSink++
	s.sinks[handle] = sink
	return handle
}

// RemoveTraceSink unregisters a sink. Removing an unknown handle is a no-op.
func (s *Session) RemoveTraceSink(handle int) {
	delete(s.sinks, handle)
}

// emit stamps an event with the next ordering index and fans it out.
func (s *Session) emit(e TraceEvent) {
	e.Seq = s.traceSeq
	s.traceSeq++
	if s.result != nil {
		s.result.Trace = append(s.result.Trace, e)
	}
	for _, sink := range s.sortedSinks() {
		sink.Emit(e)
	}
}

// sortedSinks returns sinks in handle order so fan-out order is stable.
func (s *Session) sortedSinks() []TraceSink {
	if len(s.sinks) == 0 {
		return nil
	}
	out := make([]TraceSink, 0, len(s.sinks))
	for h := 0; h < s.nextSink; h++ {
		if sink, ok := s.sinks[h]; ok {
			out = append(out, sink)
		}
	}
	return out
}
