/*
Copyright (C) 2026 The picotm Authors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package txevent is the ordered, per-transaction journal that drives
// commit (apply, head-to-tail) and abort (undo, tail-to-head). Events are
// immutable triples of (module, opcode, cookie); only the owning module
// interprets the cookie.
package txevent

// Event is one journal entry. Cookie is a module-private 32-bit handle,
// typically an index into that module's own scratch table.
type Event struct {
	Module uint32
	Opcode uint32
	Cookie uint32
}

// Log is an append-only, per-transaction event journal.
type Log struct {
	events []Event
}

// Append records a new event at the tail of the log and returns its
// index.
func (l *Log) Append(module, opcode, cookie uint32) int {
	l.events = append(l.events, Event{Module: module, Opcode: opcode, Cookie: cookie})
	return len(l.events) - 1
}

// Len reports the number of recorded events.
func (l *Log) Len() int {
	return len(l.events)
}

// Reset clears the log for reuse by a fresh transaction attempt.
func (l *Log) Reset() {
	l.events = l.events[:0]
}

// Events returns the full recorded sequence in append order. The slice
// aliases the log's internal storage and must not be retained across a
// Reset.
func (l *Log) Events() []Event {
	return l.events
}

// EachModuleRun partitions the log into contiguous runs that belong to
// the same module and invokes fn once per run, in log order, with the
// sub-slice covering that run. This lets a module's apply/undo callback
// receive a contiguous batch, the way the source's apply_event callbacks
// take a (struct event*, size_t nevents) pair.
func EachModuleRun(events []Event, fn func(module uint32, run []Event)) {
	for i := 0; i < len(events); {
		j := i + 1
		for j < len(events) && events[j].Module == events[i].Module {
			j++
		}
		fn(events[i].Module, events[i:j])
		i = j
	}
}

// ReverseModuleRuns is EachModuleRun but walks the log tail-to-head,
// partitioning into contiguous per-module runs seen in reverse order —
// used by abort's undo pass.
func ReverseModuleRuns(events []Event, fn func(module uint32, run []Event)) {
	for i := len(events); i > 0; {
		j := i
		for i > 0 && events[i-1].Module == events[j-1].Module {
			i--
		}
		fn(events[j-1].Module, events[i:j])
	}
}
