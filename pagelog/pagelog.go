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

// Package pagelog is the per-transaction record of every frame a
// transaction has touched: the shadow copy needed to undo a store, and
// the pending bytes a store will write on apply. It has no knowledge of
// locking or validation; package tm drives it.
//
// Grounded on original_source/lib/modules/tm/src/vmem_tx.h's
// active_pages/alloced_pages lists, reworked from an intrusive linked
// list into a map keyed by block index plus an insertion-order slice,
// since Go has no splice-free intrusive lists and the deterministic
// iteration order is what the lock/apply/undo phases actually need.
package pagelog

import "github.com/picotm/txcore/frame"

// Op records which operation first touched a page, driving the apply
// step: a pure Load never needs to write anything back.
type Op int

const (
	OpLoad Op = iota
	OpStore
	OpLoadStore
	OpPrivatize
)

// Entry is the transaction-local record for one frame.
type Entry struct {
	Frame *frame.Frame
	Op    Op

	// Before is the frame's content at first touch, restored verbatim
	// on undo. Privatize-only entries never populate After.
	Before []byte

	// After is the most recently stored content, written to the frame
	// on apply. Nil until a Store or LoadStore occurs.
	After []byte
}

// Log is the ordered set of frames one transaction has touched, in
// first-touch order. Entries are deduplicated by frame: a frame touched
// twice keeps its original Before snapshot and its latest After value.
type Log struct {
	byFrame map[*frame.Frame]*Entry
	order   []*Entry
}

// New returns an empty page log.
func New() *Log {
	return &Log{byFrame: make(map[*frame.Frame]*Entry)}
}

// Reset clears the log for reuse by a fresh transaction attempt.
func (l *Log) Reset() {
	l.byFrame = make(map[*frame.Frame]*Entry)
	l.order = l.order[:0]
}

// Entries returns all touched entries in first-touch order.
func (l *Log) Entries() []*Entry {
	return l.order
}

// Shadow returns fr's current transaction-local content: the pending
// After bytes if a Store or LoadStore has touched fr this attempt, else
// the Before snapshot if fr has merely been read or privatized, else nil
// if fr has not been touched at all. This is what lets a transaction
// read back its own uncommitted stores instead of the live, unmodified
// backing storage.
func (l *Log) Shadow(fr *frame.Frame) []byte {
	e, ok := l.byFrame[fr]
	if !ok {
		return nil
	}
	if e.After != nil {
		return e.After
	}
	return e.Before
}

// Len reports how many distinct frames have been touched.
func (l *Log) Len() int {
	return len(l.order)
}

// touch returns the entry for fr, creating and snapshotting it on first
// touch. current is the frame's live content, sized to frame.BlockSize.
func (l *Log) touch(fr *frame.Frame, op Op, current []byte) *Entry {
	if e, ok := l.byFrame[fr]; ok {
		if op == OpStore || op == OpLoadStore {
			e.Op = op
		}
		return e
	}
	before := make([]byte, len(current))
	copy(before, current)
	e := &Entry{Frame: fr, Op: op, Before: before}
	l.byFrame[fr] = e
	l.order = append(l.order, e)
	return e
}

// RecordLoad registers a read of fr without scheduling any write-back.
func (l *Log) RecordLoad(fr *frame.Frame, current []byte) {
	l.touch(fr, OpLoad, current)
}

// RecordStore registers a write of newContent to fr, to be applied on
// commit. current is the frame's pre-store content, snapshotted once for
// undo.
func (l *Log) RecordStore(fr *frame.Frame, current, newContent []byte) *Entry {
	e := l.touch(fr, OpStore, current)
	after := make([]byte, len(newContent))
	copy(after, newContent)
	e.After = after
	return e
}

// RecordLoadStore is RecordStore but preserves the OpLoadStore
// distinction, matching __picotm_tm_loadstore's combined read-then-write
// semantics.
func (l *Log) RecordLoadStore(fr *frame.Frame, current, newContent []byte) *Entry {
	e := l.touch(fr, OpLoadStore, current)
	after := make([]byte, len(newContent))
	copy(after, newContent)
	e.After = after
	return e
}

// RecordPrivatize registers a privatization of fr: the frame is excluded
// from other transactions' view but its content is neither read nor
// written by this log entry alone.
func (l *Log) RecordPrivatize(fr *frame.Frame, current []byte) {
	l.touch(fr, OpPrivatize, current)
}

// Apply writes every entry's pending After content to its frame's
// backing storage via write. Called once per frame, in first-touch
// order, during the TM module's apply phase.
func (l *Log) Apply(write func(fr *frame.Frame, content []byte)) {
	for _, e := range l.order {
		if e.After != nil {
			write(e.Frame, e.After)
		}
	}
}

// Undo restores the Before content of every Store or LoadStore entry to
// its frame's backing storage via write; Load and Privatize entries are
// skipped. Called in reverse first-touch order during abort,
// so the most recently touched frame is restored first.
func (l *Log) Undo(write func(fr *frame.Frame, content []byte)) {
	for i := len(l.order) - 1; i >= 0; i-- {
		e := l.order[i]
		if e.Op == OpStore || e.Op == OpLoadStore {
			write(e.Frame, e.Before)
		}
	}
}
