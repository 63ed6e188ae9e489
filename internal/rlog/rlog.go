// Package rlog provides the engine's -v/-vv progress and debug output.
//
// It mirrors the teacher's habit of guarding expensive or noisy log
// statements behind a compile-time flag (Runner.c's debug_printf macro),
// except the level is a runtime flag (-v, -vv) as spec.md §6 requires.
package rlog

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// Level controls which of Progress/Debug actually writes.
type Level int

const (
	// Quiet suppresses Progress and Debug; fatal errors still print.
	Quiet Level = iota
	// Verbose (-v) enables Progress.
	Verbose
	// Debug (-vv) enables Progress and Debug tracing.
	Debug
)

// Logger writes leveled progress output to an io.Writer (normally os.Stderr).
// When the writer is not a terminal (redirected to a file, running under
// CI), Logger drops the leading arrow used for interactive progress lines,
// matching how build logs collected from distri are meant to stay greppable.
type Logger struct {
	w      io.Writer
	level  Level
	isTerm bool
}

// New constructs a Logger at the given level, writing to w.
func New(w *os.File, level Level) *Logger {
	return &Logger{w: w, level: level, isTerm: isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd())}
}

func (l *Logger) prefix() string {
	if l.isTerm {
		return "→ "
	}
	return ""
}

// Progress prints a -v level status line (e.g. "resolving Bash >= 1.5").
func (l *Logger) Progress(format string, args ...interface{}) {
	if l == nil || l.level < Verbose {
		return
	}
	fmt.Fprintf(l.w, l.prefix()+format+"\n", args...)
}

// Debug prints a -vv level trace line (e.g. the lowerdir string about to be
// mounted).
func (l *Logger) Debug(format string, args ...interface{}) {
	if l == nil || l.level < Debug {
		return
	}
	fmt.Fprintf(l.w, "debug: "+format+"\n", args...)
}

// Warn always prints, in the "WARNING: <context>: <detail>" shape spec.md §7
// requires for recoverable errors, unless quiet suppresses it.
func (l *Logger) Warn(quiet bool, context, format string, args ...interface{}) {
	if quiet {
		return
	}
	fmt.Fprintf(l.w, "WARNING: %s: "+format+"\n", append([]interface{}{context}, args...)...)
}
