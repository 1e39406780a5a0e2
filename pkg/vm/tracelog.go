package vm

import (
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

// LogSink forwards trace events to a commonlog logger, mapping trace
// severities onto log levels. Register it like any other sink:
//
//	sess.AddTraceSink(vm.NewLogSink("scrawl.vm"))
type LogSink struct {
	log commonlog.Logger
}

// NewLogSink creates a sink logging under the given name.
func NewLogSink(name string) *LogSink {
	return &LogSink{log: commonlog.GetLogger(name)}
}

// Emit implements TraceSink.
func (l *LogSink) Emit(e TraceEvent) {
	switch e.Severity {
	case SeverityError:
		l.log.Errorf("%s.%s pc=%d ctx=%d: %s", e.Domain, e.Type, e.PC, e.Context, e.Message)
	case SeverityWarn:
		l.log.Warningf("%s.%s pc=%d ctx=%d: %s", e.Domain, e.Type, e.PC, e.Context, e.Message)
	case SeverityInfo:
		l.log.Infof("%s.%s pc=%d ctx=%d: %s", e.Domain, e.Type, e.PC, e.Context, e.Message)
	default:
		l.log.Debugf("%s.%s pc=%d ctx=%d: %s", e.Domain, e.Type, e.PC, e.Context, e.Message)
	}
}
