package pipeline

import (
	"io"
	"log"
	"sync/atomic"
)

// logStream is one of the package's log outputs. A nil logger drops
// everything written to it.
type logStream struct {
	l atomic.Pointer[log.Logger]
}

func (s *logStream) set(w io.Writer) {
	if w == nil {
		s.l.Store(nil)
		return
	}
	s.l.Store(log.New(w, "[slam] ", log.LstdFlags|log.Lmicroseconds))
}

func (s *logStream) printf(format string, args ...interface{}) {
	if l := s.l.Load(); l != nil {
		l.Printf(format, args...)
	}
}

// opsLog carries rejected frames, failed rounds and persistence errors.
// diagLog carries lifecycle events and skipped optimisations. traceLog
// carries every commit.
var opsLog, diagLog, traceLog logStream

// SetLogWriters points the ops, diag and trace streams at the given
// writers. A nil writer silences its stream. Safe to call while a
// coordinator is running.
func SetLogWriters(opsW, diagW, traceW io.Writer) {
	opsLog.set(opsW)
	diagLog.set(diagW)
	traceLog.set(traceW)
}

// SetLogWriter sends all streams to w, or silences them when w is nil.
func SetLogWriter(w io.Writer) { SetLogWriters(w, w, w) }

func opsf(format string, args ...interface{}) {
	opsLog.printf(format, args...)
}

func diagf(format string, args ...interface{}) {
	diagLog.printf(format, args...)
}

func tracef(format string, args ...interface{}) {
	traceLog.printf(format, args...)
}
