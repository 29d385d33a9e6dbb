package pipeline

import (
	"log"
	"sync"

	"github.com/banshee-data/twoview/internal/monitoring"
)

var (
	mu          sync.RWMutex
	opsLogger   *log.Logger
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

func init() {
	monitoring.Register(SetLogWriters)
}

// SetLogWriters configures all three logging streams at once.
// Pass nil for any writer to disable that stream.
func SetLogWriters(w monitoring.Streams) {
	mu.Lock()
	defer mu.Unlock()
	opsLogger = monitoring.NewLogger("[pipeline] ", w.Ops)
	diagLogger = monitoring.NewLogger("[pipeline] ", w.Diag)
	traceLogger = monitoring.NewLogger("[pipeline] ", w.Trace)
}

// opsf logs run summaries.
func opsf(format string, args ...interface{}) {
	mu.RLock()
	l := opsLogger
	mu.RUnlock()
	monitoring.Printf(l, format, args...)
}

func diagf(format string, args ...interface{}) {
	mu.RLock()
	l := diagLogger
	mu.RUnlock()
	monitoring.Printf(l, format, args...)
}

func tracef(format string, args ...interface{}) {
	mu.RLock()
	l := traceLogger
	mu.RUnlock()
	monitoring.Printf(l, format, args...)
}
