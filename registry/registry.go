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

// Package registry is the per-goroutine table of registered modules and
// their callback sets, plus the sentinel-panic path module code uses to
// signal failure upward (RecoverFrom).
//
// The source keeps this table behind __thread storage. The Go port's
// goroutine-local binding lives in package txn (which embeds a *Registry
// in its per-goroutine Tx); this package only holds the table shape and
// the restart-sentinel mechanics, so it has no gls dependency of its own.
package registry

import (
	"github.com/picotm/txcore/perror"
	"github.com/picotm/txcore/txevent"
)

// Entry is one module's callback set. Any field may be nil, interpreted
// as a no-op.
type Entry struct {
	Data any

	Lock, Unlock func(data any, err *perror.Error)
	Validate     func(data any, eotx bool, err *perror.Error)

	ApplyEvent func(events []txevent.Event, data any, err *perror.Error)
	UndoEvent  func(events []txevent.Event, data any, err *perror.Error)

	UpdateCC func(data any, noUndo bool, err *perror.Error)
	ClearCC  func(data any, noUndo bool, err *perror.Error)

	Finish func(data any, err *perror.Error)
	Uninit func(data any)
}

// Registry is the per-goroutine table of registered modules, in
// registration order.
type Registry struct {
	entries []*Entry
}

// Register adds a new module to the registry and returns its id. Modules
// register themselves at most once per goroutine (single-assignment per
// thread per module, per spec.md §3).
func (r *Registry) Register(entry Entry) uint32 {
	r.entries = append(r.entries, &entry)
	return uint32(len(r.entries) - 1)
}

// Entry returns the registered entry for module id, or nil if unknown.
func (r *Registry) Entry(module uint32) *Entry {
	if int(module) >= len(r.entries) {
		return nil
	}
	return r.entries[module]
}

// Modules returns the ids of all registered modules in registration
// order.
func (r *Registry) Modules() []uint32 {
	ids := make([]uint32, len(r.entries))
	for i := range r.entries {
		ids[i] = uint32(i)
	}
	return ids
}

// UninitAll invokes every registered module's Uninit callback, in
// registration order, and clears the table. Nothing in this module calls
// it automatically: Go has no pthread TLS destructor to hook it to.
func (r *Registry) UninitAll() {
	for _, e := range r.entries {
		if e.Uninit != nil {
			e.Uninit(e.Data)
		}
	}
	r.entries = nil
}

// restartSignal is the sentinel panic value RecoverFrom uses to unwind to
// the nearest tx.Begin boundary — the Go stand-in for the source's
// longjmp-based restart (spec.md §9).
type restartSignal struct {
	Err *perror.Error
}

// RecoverFrom is how module code signals failure upward without
// returning an error value: it never returns. Conflicting errors unwind
// immediately via panic(restartSignal{...}); tx.Begin's deferred recover
// decides whether to restart, retry in place, or escalate to a
// caller-visible failure.
func RecoverFrom(err *perror.Error) {
	panic(restartSignal{Err: err})
}

// Recovered unwraps a recover()'d value produced by RecoverFrom. ok is
// false if v was not one of ours (a genuine unrelated panic), in which
// case the caller must re-panic v.
func Recovered(v any) (err *perror.Error, ok bool) {
	sig, ok := v.(restartSignal)
	if !ok {
		return nil, false
	}
	return sig.Err, true
}
