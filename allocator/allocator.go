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

// Package allocator is the allocator module: it defers every Free to
// commit and makes every allocation undoable by recording a cookie that
// indexes back into a per-transaction pointer table, exactly as spec.md
// §4.4 describes. Go's garbage collector means there is never a raw
// free() to call — apply-of-Free and undo-of-PosixMemalign only have to
// stop referencing the block so the collector can reclaim it — but the
// event-sourced bookkeeping is otherwise a direct port.
package allocator

import (
	"sync"

	"github.com/picotm/txcore/perror"
	"github.com/picotm/txcore/registry"
	"github.com/picotm/txcore/txevent"
	"github.com/picotm/txcore/txn"
)

const (
	opFree uint32 = iota
	opPosixMemalign
)

// Ptr is a handle to one transaction-scoped allocation. Cookies start at
// 0, so the zero Ptr is the handle of a transaction's first allocation.
type Ptr struct {
	cookie uint32
}

type ptrRecord struct {
	buf     []byte
	freed   bool // true once exec_free has recorded this pointer
	alloced bool // true if this record came from exec_posix_memalign
}

type state struct {
	module uint32
	ptrtab []*ptrRecord
}

var registered sync.Map // *txn.Tx -> *state

func getState(tx *txn.Tx) *state {
	if v, ok := registered.Load(tx); ok {
		return v.(*state)
	}
	st := &state{}
	st.module = tx.Registry.Register(registry.Entry{
		Data: st,
		ApplyEvent: func(events []txevent.Event, _ any, err *perror.Error) {
			for _, ev := range events {
				rec := st.ptrtab[ev.Cookie]
				switch ev.Opcode {
				case opFree:
					rec.buf = nil // the collector reclaims it; Free has no undo path left.
				case opPosixMemalign:
					// no-op: the allocation already happened eagerly.
				}
			}
		},
		UndoEvent: func(events []txevent.Event, _ any, err *perror.Error) {
			for i := len(events) - 1; i >= 0; i-- {
				ev := events[i]
				rec := st.ptrtab[ev.Cookie]
				switch ev.Opcode {
				case opFree:
					// no-op: the block was never actually released.
				case opPosixMemalign:
					rec.buf = nil
				}
			}
		},
		Finish: func(_ any, err *perror.Error) {
			st.ptrtab = st.ptrtab[:0]
		},
		Uninit: func(_ any) {
			registered.Delete(tx)
		},
	})
	registered.Store(tx, st)
	return st
}

func currentState() (*txn.Tx, *state) {
	tx := txn.Current()
	if tx == nil {
		registry.RecoverFrom(perror.NewErrorCode(perror.GeneralError).MarkNonRecoverable())
	}
	return tx, getState(tx)
}

// ExecFree records ptr for deferred release. The underlying buffer stays
// reachable (and thus valid for other in-flight readers) until apply.
func ExecFree(ptr Ptr) {
	tx, st := currentState()
	rec := st.ptrtab[ptr.cookie]
	rec.freed = true
	tx.InjectEvent(st.module, opFree, ptr.cookie)
}

// ExecPosixMemalign allocates size bytes immediately (the allocation
// itself cannot be deferred: callers need the pointer right away) and
// records it so an abort can drop the reference. It takes no alignment
// argument: the buffer has only the alignment Go gives a byte slice.
func ExecPosixMemalign(size int) Ptr {
	tx, st := currentState()
	rec := &ptrRecord{buf: make([]byte, size), alloced: true}
	st.ptrtab = append(st.ptrtab, rec)
	cookie := uint32(len(st.ptrtab) - 1)
	tx.InjectEvent(st.module, opPosixMemalign, cookie)
	return Ptr{cookie: cookie}
}

// Bytes returns the live backing buffer for ptr, or nil if it has been
// freed or undone.
func Bytes(ptr Ptr) []byte {
	_, st := currentState()
	return st.ptrtab[ptr.cookie].buf
}

// Malloc composes ExecPosixMemalign with natural alignment, matching
// spec.md §4.4's "calloc, malloc, realloc compose from these two
// primitives".
func Malloc(size int) Ptr {
	return ExecPosixMemalign(size)
}

// Calloc allocates n*size zeroed bytes (Go's make([]byte, n) is already
// zeroed, so no explicit clear is needed).
func Calloc(n, size int) Ptr {
	return ExecPosixMemalign(n * size)
}

// Realloc allocates a new block of newSize bytes, copies over the
// overlapping prefix of the old block's content, and frees the old
// block. Growing or shrinking in place is never attempted: doing so
// would require tracking the TM module's privatization of the
// destination range, which composes at the Malloc/ExecFree level
// instead.
func Realloc(old Ptr, newSize int) Ptr {
	oldBuf := Bytes(old)
	newPtr := ExecPosixMemalign(newSize)
	n := len(oldBuf)
	if len(Bytes(newPtr)) < n {
		n = len(Bytes(newPtr))
	}
	copy(Bytes(newPtr), oldBuf[:n])
	ExecFree(old)
	return newPtr
}
