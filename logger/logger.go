// This file is part of cov.
//
// cov is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// cov is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with cov.  If not, see <https://www.gnu.org/licenses/>.

// Package logger implements a capped, in-memory ring of tagged log entries,
// written to by the graph builder while it merges files so a caller can
// inspect what it actually did without re-running it under a debugger.
package logger

import (
	"fmt"
	"io"
	"strings"
)

// Permission lets a caller gate logging per-entry, e.g. to silence a noisy
// tag at runtime without recompiling.
type Permission interface {
	AllowLogging() bool
}

// allowAll is the default Permission used by Log/Logf when none is given.
type allowAll struct{}

func (allowAll) AllowLogging() bool { return true }

// Allow is the zero-effort Permission: logging is always allowed.
var Allow Permission = allowAll{}

type entry struct {
	tag    string
	detail string
}

// Logger is a capped ring of log entries.
type Logger struct {
	capacity int
	entries  []entry
}

// NewLogger creates a Logger that retains at most capacity entries, dropping
// the oldest entry once full.
func NewLogger(capacity int) *Logger {
	return &Logger{capacity: capacity}
}

func stringify(detail any) string {
	switch d := detail.(type) {
	case error:
		return d.Error()
	case fmt.Stringer:
		return d.String()
	case string:
		return d
	default:
		return fmt.Sprintf("%v", d)
	}
}

// Log appends a tagged entry if permission allows it. detail is rendered via
// its Error()/String() method if it implements one, else via fmt's %v verb.
func (l *Logger) Log(permission Permission, tag string, detail any) {
	if permission == nil || !permission.AllowLogging() {
		return
	}
	l.append(tag, stringify(detail))
}

// Logf appends a tagged, formatted entry if permission allows it.
func (l *Logger) Logf(permission Permission, tag string, pattern string, values ...any) {
	if permission == nil || !permission.AllowLogging() {
		return
	}
	l.append(tag, fmt.Sprintf(pattern, values...))
}

func (l *Logger) append(tag, detail string) {
	l.entries = append(l.entries, entry{tag: tag, detail: detail})
	if l.capacity > 0 && len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
}

// Clear empties the log.
func (l *Logger) Clear() {
	l.entries = l.entries[:0]
}

// Write writes every retained entry, oldest first, as "tag: detail\n".
func (l *Logger) Write(w io.Writer) {
	l.Tail(w, len(l.entries))
}

// Tail writes the most recent n entries, oldest first, as "tag: detail\n".
func (l *Logger) Tail(w io.Writer, n int) {
	if n > len(l.entries) {
		n = len(l.entries)
	}
	var b strings.Builder
	for _, e := range l.entries[len(l.entries)-n:] {
		b.WriteString(e.tag)
		b.WriteString(": ")
		b.WriteString(e.detail)
		b.WriteByte('\n')
	}
	_, _ = io.WriteString(w, b.String())
}

// central is the package-level logger used by the free functions below, for
// callers that don't need a dedicated instance per graph.
var central = NewLogger(1000)

// Log appends a tagged entry to the central logger.
func Log(tag string, detail any) {
	central.Log(Allow, tag, detail)
}

// Logf appends a tagged, formatted entry to the central logger.
func Logf(tag string, pattern string, values ...any) {
	central.Logf(Allow, tag, pattern, values...)
}

// Write writes every entry retained by the central logger.
func Write(w io.Writer) {
	central.Write(w)
}

// Tail writes the most recent n entries retained by the central logger.
func Tail(w io.Writer, n int) {
	central.Tail(w, n)
}

// Clear empties the central logger.
func Clear() {
	central.Clear()
}
