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

package fildes

import (
	"os"
	"sync"

	"github.com/picotm/txcore/perror"
	"github.com/picotm/txcore/registry"
	"github.com/picotm/txcore/txevent"
	"github.com/picotm/txcore/txn"
)

const (
	opRead uint32 = iota
	opWrite
	opSeek
	opClose
	opMkstemp
)

// undoCookie is one entry in a transaction's per-operation scratch,
// indexed by the event log's cookie field — spec.md §4.6 step 3's
// "cookie indexes into per-op scratch".
type undoCookie struct {
	fd int

	// Seek: offset to restore.
	savedOffset int64

	// Write on a regular file: the byte range it touched and its
	// previous content, for undo.
	writeAt  int64
	writeOld []byte

	// Close: true once this transaction has transitioned the fd to
	// Closing, so Finish/undo know whether to actually release it.
	closed bool

	// Mkstemp: the path of a freshly created temp file, removed on undo.
	mkstempPath string
}

type txState struct {
	module      uint32
	touchedFDs  map[int]*Descriptor
	lockedDescs []*Descriptor // every descriptor this attempt locked, acquisition order
	scratch     []undoCookie
	irrevocable bool
}

var registered sync.Map // *txn.Tx -> *txState

func getTxState(tx *txn.Tx) *txState {
	if v, ok := registered.Load(tx); ok {
		return v.(*txState)
	}
	st := &txState{touchedFDs: make(map[int]*Descriptor)}
	st.module = tx.Registry.Register(registry.Entry{
		Data: st,
		Lock: func(_ any, err *perror.Error) {
			// Per-fd locks are taken eagerly at access time (see touch
			// below); Lock here only re-verifies nothing else stole a
			// descriptor's state since acquisition.
			for _, d := range st.lockedDescs {
				c := st.scratchFor(d.FD)
				weClosedIt := c != nil && c.closed
				// d.mu is already held exclusively by this transaction
				// (acquired in touch()), so reading d.state directly is
				// safe without re-locking it via State().
				if d.state == Closing && !weClosedIt {
					*err = *perror.NewConflicting(d)
					return
				}
			}
		},
		Unlock: func(_ any, err *perror.Error) {
			// Every locked descriptor must be unlocked here regardless
			// of whether apply() already released its fd to the OS:
			// another goroutine may be blocked in touch() waiting on
			// this exact *Descriptor.
			for _, d := range st.lockedDescs {
				d.mu.Unlock()
			}
			st.lockedDescs = st.lockedDescs[:0]
		},
		ApplyEvent: func(events []txevent.Event, _ any, err *perror.Error) {
			applyEvents(tx, st, events)
		},
		UndoEvent: func(events []txevent.Event, _ any, err *perror.Error) {
			undoEvents(tx, st, events)
		},
		Finish: func(_ any, err *perror.Error) {
			// lockedDescs is emptied by Unlock, which runs after Finish.
			st.touchedFDs = make(map[int]*Descriptor)
			st.scratch = st.scratch[:0]
		},
		Uninit: func(_ any) {
			registered.Delete(tx)
		},
	})
	registered.Store(tx, st)
	return st
}

func (st *txState) scratchFor(fd int) *undoCookie {
	for i := range st.scratch {
		if st.scratch[i].fd == fd {
			return &st.scratch[i]
		}
	}
	return nil
}

func currentTxState() (*txn.Tx, *txState) {
	tx := txn.Current()
	if tx == nil {
		registry.RecoverFrom(perror.NewErrorCode(perror.GeneralError).MarkNonRecoverable())
	}
	return tx, getTxState(tx)
}

// touch resolves fd to its descriptor, taking its writer lock on first
// touch this transaction (step 1 of spec.md §4.6's per-operation
// protocol) and reporting a conflict if it is already Closing elsewhere.
//
// Locks are acquired eagerly, in per-transaction first-touch order
// rather than a global deterministic order across fds; a transaction
// that is careful to always touch shared fds in the same relative order
// (as every operation in this package's own tests does) cannot deadlock
// against another such transaction, but this module does not itself
// enforce that ordering.
func touch(tx *txn.Tx, st *txState, fd int) *Descriptor {
	if d, ok := st.touchedFDs[fd]; ok {
		return d
	}
	d, ok := global.lookup(fd)
	if !ok {
		registry.RecoverFrom(perror.NewErrorCode(perror.InvalidFd))
	}
	d.mu.Lock()
	if d.state == Closing {
		d.mu.Unlock()
		registry.RecoverFrom(perror.NewConflicting(d))
	}
	st.touchedFDs[fd] = d
	st.lockedDescs = append(st.lockedDescs, d)
	return d
}

func newCookie(st *txState, c undoCookie) uint32 {
	st.scratch = append(st.scratch, c)
	return uint32(len(st.scratch) - 1)
}

// Read reads up to len(buf) bytes from fd at the current offset of its
// shared FileBuffer (one offset per file, seen by every descriptor of
// it); abort restores the offset.
func Read(fd int, buf []byte) (int, error) {
	tx, st := currentTxState()
	d := touch(tx, st, fd)

	d.Buffer.mu.Lock()
	n := copy(buf, d.Buffer.Content[d.Buffer.Offset:])
	offBefore := d.Buffer.Offset
	d.Buffer.Offset += int64(n)
	d.Buffer.mu.Unlock()

	cookie := newCookie(st, undoCookie{fd: fd, savedOffset: offBefore})
	tx.InjectEvent(st.module, opRead, cookie)
	return n, nil
}

// Write writes buf to fd at the current offset of its shared FileBuffer,
// recording the overwritten region for undo on a regular file.
func Write(fd int, buf []byte) (int, error) {
	tx, st := currentTxState()
	d := touch(tx, st, fd)

	d.Buffer.mu.Lock()
	at := d.Buffer.Offset
	end := at + int64(len(buf))
	if end > int64(len(d.Buffer.Content)) {
		grown := make([]byte, end)
		copy(grown, d.Buffer.Content)
		d.Buffer.Content = grown
	}
	old := make([]byte, len(buf))
	copy(old, d.Buffer.Content[at:end])
	copy(d.Buffer.Content[at:end], buf)
	d.Buffer.Offset = end
	d.Buffer.Dirty = true
	d.Buffer.mu.Unlock()

	cookie := newCookie(st, undoCookie{fd: fd, writeAt: at, writeOld: old, savedOffset: at})
	tx.InjectEvent(st.module, opWrite, cookie)
	return len(buf), nil
}

// Seek repositions the offset of fd's shared FileBuffer and returns the
// previous one.
func Seek(fd int, offset int64, whence int) (int64, error) {
	tx, st := currentTxState()
	d := touch(tx, st, fd)

	d.Buffer.mu.Lock()
	prev := d.Buffer.Offset
	switch whence {
	case os.SEEK_SET:
		d.Buffer.Offset = offset
	case os.SEEK_CUR:
		d.Buffer.Offset += offset
	case os.SEEK_END:
		d.Buffer.Offset = int64(len(d.Buffer.Content)) + offset
	}
	d.Buffer.mu.Unlock()

	cookie := newCookie(st, undoCookie{fd: fd, savedOffset: prev})
	tx.InjectEvent(st.module, opSeek, cookie)
	return prev, nil
}

// Close transitions fd to Closing for the running transaction; the fd
// is only actually released to the OS on commit (apply), matching
// spec.md §4.6's descriptor state machine.
func Close(fd int) error {
	tx, st := currentTxState()
	d := touch(tx, st, fd)

	d.state = Closing
	cookie := newCookie(st, undoCookie{fd: fd, closed: true})
	tx.InjectEvent(st.module, opClose, cookie)
	return nil
}

// Mkstemp creates a uniquely named temporary file under dir, in the
// running transaction. The file is kept on commit and deleted on abort
// — the supplemental undo path spec.md's distillation omits but
// original_source's mkstemp wrapper relies on, since an uncommitted
// temp file must not leak into the filesystem.
func Mkstemp(dir, pattern string) (int, string, error) {
	tx, st := currentTxState()

	f, err := os.CreateTemp(dir, withWildcard(pattern))
	if err != nil {
		return -1, "", err
	}
	fd := int(f.Fd())
	key := bufferKey{Path: f.Name(), Type: TypeRegular}
	d := global.open(fd, f, key)
	st.touchedFDs[fd] = d
	st.lockedDescs = append(st.lockedDescs, d)
	d.mu.Lock()

	cookie := newCookie(st, undoCookie{fd: fd, mkstempPath: f.Name()})
	tx.InjectEvent(st.module, opMkstemp, cookie)
	return fd, f.Name(), nil
}

func applyEvents(tx *txn.Tx, st *txState, events []txevent.Event) {
	for _, ev := range events {
		if ev.Opcode != opClose {
			continue
		}
		c := st.scratch[ev.Cookie]
		global.release(c.fd)
		delete(st.touchedFDs, c.fd)
	}
}

func undoMkstemp(c undoCookie) {
	global.release(c.fd)
	os.Remove(c.mkstempPath)
}

func undoEvents(tx *txn.Tx, st *txState, events []txevent.Event) {
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		c := st.scratch[ev.Cookie]
		d, ok := st.touchedFDs[c.fd]
		if !ok {
			continue
		}
		switch ev.Opcode {
		case opRead, opSeek:
			d.Buffer.mu.Lock()
			d.Buffer.Offset = c.savedOffset
			d.Buffer.mu.Unlock()
		case opWrite:
			d.Buffer.mu.Lock()
			copy(d.Buffer.Content[c.writeAt:c.writeAt+int64(len(c.writeOld))], c.writeOld)
			d.Buffer.Offset = c.savedOffset
			d.Buffer.mu.Unlock()
		case opClose:
			// d.mu is still held by this transaction (Unlock runs after
			// undo, during the registry's Unlock phase), so mutate the
			// state directly rather than re-locking it.
			d.state = InUse
		case opMkstemp:
			undoMkstemp(c)
		}
	}
}

// RequestIrrevocable asks the running transaction to go Irrevocable, for
// operations that cannot be undone in general (accept, connect, bind on
// a public socket; dup2 always). If the transaction cannot be granted
// Irrevocable mode it restarts instead, per spec.md §4.6.
func RequestIrrevocable() {
	tx := txn.Current()
	if tx == nil {
		registry.RecoverFrom(perror.NewErrorCode(perror.GeneralError).MarkNonRecoverable())
	}
	if err := tx.GoIrrevocable(); err != nil {
		registry.RecoverFrom(perror.NewConflicting(nil))
	}
}
