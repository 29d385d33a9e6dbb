package db

import (
	"log"
	"sync"

	"github.com/banshee-data/twoview/internal/monitoring"
)

var (
	mu         sync.RWMutex
	diagLogger *log.Logger
)

func init() {
	monitoring.Register(SetLogWriters)
}

// SetLogWriters configures the package's log streams. Only the diag
// stream is used.
func SetLogWriters(w monitoring.Streams) {
	mu.Lock()
	defer mu.Unlock()
	diagLogger = monitoring.NewLogger("[db] ", w.Diag)
}

func diagf(format string, args ...interface{}) {
	mu.RLock()
	l := diagLogger
	mu.RUnlock()
	monitoring.Printf(l, format, args...)
}
