// Package logging is a thin leveled wrapper over the standard library's
// log package, sized to spec §6's debug_level 0..3 knob.
//
// The teacher logs throughout with plain log.Printf/log.Fatalf and never
// reaches for a structured-logging library; nothing in the teacher or the
// rest of the pack gives this gateway a reason to start (see DESIGN.md for
// why this one ambient concern stays on the standard library). What the
// teacher's fixed verbosity doesn't have is spec §6's four-level
// debug_level knob, so this package gates Debug/Trace calls on a
// process-wide level the same way a real deployment turns verbosity up
// only while chasing a problem.
package logging

import (
	"log"
	"os"
)

// Level mirrors spec §6's debug_level: 0 is quiet (warnings and errors
// only), 3 is the most verbose.
type Level int

const (
	LevelQuiet Level = 0
	LevelInfo  Level = 1
	LevelDebug Level = 2
	LevelTrace Level = 3
)

// Logger is a leveled logger. Construct it with New: the zero value has
// no underlying *log.Logger, and its logging methods panic.
type Logger struct {
	level Level
	std   *log.Logger
}

// New constructs a Logger at the given level, writing through the
// standard library's log package the way the teacher's main.go and
// handler.go always have.
func New(level Level) *Logger {
	return &Logger{level: level, std: log.New(os.Stderr, "", log.LstdFlags)}
}

// Level returns the logger's configured verbosity.
func (l *Logger) Level() Level { return l.level }

// Errorf always logs — errors and warnings are never suppressed by
// debug_level.
func (l *Logger) Errorf(format string, args ...any) { l.std.Printf("ERROR "+format, args...) }

// Warnf always logs, same as Errorf.
func (l *Logger) Warnf(format string, args ...any) { l.std.Printf("WARN "+format, args...) }

// Infof logs at debug_level >= 1.
func (l *Logger) Infof(format string, args ...any) {
	if l.level >= LevelInfo {
		l.std.Printf("INFO "+format, args...)
	}
}

// Debugf logs at debug_level >= 2.
func (l *Logger) Debugf(format string, args ...any) {
	if l.level >= LevelDebug {
		l.std.Printf("DEBUG "+format, args...)
	}
}

// Tracef logs at debug_level >= 3 — the verbosity tier for per-chunk and
// per-event detail, noisy enough that it's only worth paying for while
// actively chasing a problem.
func (l *Logger) Tracef(format string, args ...any) {
	if l.level >= LevelTrace {
		l.std.Printf("TRACE "+format, args...)
	}
}
