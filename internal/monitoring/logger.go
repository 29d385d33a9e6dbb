// Package monitoring owns the shared log stream plumbing.
//
// Every package that logs at runtime keeps three *log.Logger streams:
// ops (actionable warnings and failures), diag (per-pair diagnostics) and
// trace (per-trial telemetry). A nil logger disables its stream.
package monitoring

import (
	"io"
	"log"
)

// Streams bundles the three writers a package logs to. A nil writer
// disables that stream.
type Streams struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// Single routes all three streams to w.
func Single(w io.Writer) Streams {
	return Streams{Ops: w, Diag: w, Trace: w}
}

// NewLogger builds a logger with the standard prefix and flags, or nil when
// w is nil.
func NewLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Printf logs to l if it is non-nil.
func Printf(l *log.Logger, format string, args ...interface{}) {
	if l != nil {
		l.Printf(format, args...)
	}
}

var sinks []func(Streams)

// Register adds a package's SetLogWriters hook so SetLogWriters can reach
// it. Packages call this from init.
func Register(set func(Streams)) {
	sinks = append(sinks, set)
}

// SetLogWriters configures every registered package.
func SetLogWriters(s Streams) {
	for _, set := range sinks {
		set(s)
	}
}
