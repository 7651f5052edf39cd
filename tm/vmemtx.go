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

package tm

import (
	"sort"
	"sync"

	"github.com/picotm/txcore/frame"
	"github.com/picotm/txcore/pagelog"
	"github.com/picotm/txcore/perror"
	"github.com/picotm/txcore/registry"
	"github.com/picotm/txcore/txevent"
	"github.com/picotm/txcore/txn"
)

// Opcodes injected into the transaction's event log, mirroring tm.c's
// PICOTM_TM_* enum.
const (
	opLoad uint32 = iota
	opStore
	opLoadStore
	opPrivatize
)

// vmemTx is the per-transaction TM module state: the vmem it operates
// on and the page log recording every frame it has touched. Grounded on
// original_source/lib/modules/tm/src/vmem_tx.h's struct tm_vmem_tx.
type vmemTx struct {
	vmem   *VMem
	tx     *txn.Tx
	log    *pagelog.Log
	module uint32

	// acquired holds the frames locked so far this attempt, in the
	// order they were acquired, so an early failure can unlock exactly
	// those and no more.
	acquired []*frame.Frame
}

func newVMemTx(vmem *VMem, tx *txn.Tx) *vmemTx {
	return &vmemTx{vmem: vmem, tx: tx, log: pagelog.New()}
}

var registered sync.Map // *txn.Tx -> *vmemTx

// getVMemTx returns the TM module state for the current transaction,
// registering it with the transaction's module registry on first use.
// This is the Go stand-in for tm.c's get_vmem_tx, whose __thread static
// tm_module played the same "register once, reuse after" role; since
// each *txn.Tx lives on exactly one goroutine at a time, a plain
// sync.Map keyed by tx identity needs no further locking here.
func getVMemTx(tx *txn.Tx) *vmemTx {
	if v, ok := registered.Load(tx); ok {
		return v.(*vmemTx)
	}

	vt := newVMemTx(Global(), tx)

	vt.module = tx.Registry.Register(registry.Entry{
		Data: vt,
		Lock: func(_ any, err *perror.Error) {
			vt.lock(err)
		},
		Unlock: func(_ any, err *perror.Error) {
			vt.unlock(err)
		},
		Validate: func(_ any, eotx bool, err *perror.Error) {
			vt.validate(eotx, err)
		},
		ApplyEvent: func(events []txevent.Event, _ any, err *perror.Error) {
			vt.apply(err)
		},
		UndoEvent: func(events []txevent.Event, _ any, err *perror.Error) {
			vt.undo(err)
		},
		Finish: func(_ any, err *perror.Error) {
			vt.finish(err)
		},
		Uninit: func(_ any) {
			registered.Delete(tx)
		},
	})

	registered.Store(tx, vt)
	return vt
}

// blockAddrs returns the block-aligned addresses of every frame covering
// [addr, addr+siz).
func blockAddrs(addr uintptr, siz int) []uintptr {
	if siz <= 0 {
		return nil
	}
	first := frame.BlockOffsetAt(addr)
	last := frame.BlockOffsetAt(addr + uintptr(siz) - 1)
	addrs := make([]uintptr, 0, (last-first)/frame.BlockSize+1)
	for a := first; a <= last; a += frame.BlockSize {
		addrs = append(addrs, a)
	}
	return addrs
}

// touch acquires (if not already held) every frame covering [addr,siz)
// and records the access in the page log, returning the frames in
// address order. On lock contention it invokes registry.RecoverFrom with
// a conflicting error, which unwinds to the transaction's restart point
// — the Go stand-in for tm.c's `while (EBUSY) picotm_resolve_conflict()`
// retry loop, since this runtime restarts the whole attempt rather than
// re-spinning in place.
func (vt *vmemTx) touch(addr uintptr, siz int, op uint32) []*frame.Frame {
	addrs := blockAddrs(addr, siz)
	frames := make([]*frame.Frame, len(addrs))
	for i, a := range addrs {
		fr := vt.vmem.Frames.Lookup(a)
		if !fr.IsOwnedBy(uintptr(vt.tx.ID)) {
			if !fr.TryLock(uintptr(vt.tx.ID)) {
				registry.RecoverFrom(perror.NewConflicting(fr))
			}
			vt.acquired = append(vt.acquired, fr)
		}
		frames[i] = fr

		buf := make([]byte, frame.BlockSize)
		vt.vmem.Heap.read(fr.Address(), buf)
		switch op {
		case opLoad:
			vt.log.RecordLoad(fr, buf)
		case opStore, opLoadStore:
			// Store/LoadStore content is recorded by the caller once
			// the full region's bytes are known; RecordLoad here only
			// captures the Before snapshot on first touch.
			vt.log.RecordLoad(fr, buf)
		case opPrivatize:
			vt.log.RecordPrivatize(fr, buf)
		}
	}
	return frames
}

// Load reads siz bytes at addr into buf, from this transaction's shadow
// view rather than live memory, so a prior Store to the same range in
// this attempt is visible (read-your-own-writes, spec.md §8).
func (vt *vmemTx) Load(addr uintptr, buf []byte, siz int) {
	frames := vt.touch(addr, siz, opLoad)
	vt.readRegion(addr, siz, frames, buf[:siz])
	vt.tx.InjectEvent(vt.moduleID(), opLoad, 0)
}

// Store writes siz bytes from buf to addr.
func (vt *vmemTx) Store(addr uintptr, buf []byte, siz int) {
	frames := vt.touch(addr, siz, opStore)
	vt.recordRegionStore(addr, siz, frames, buf[:siz], false)
	vt.tx.InjectEvent(vt.moduleID(), opStore, 0)
}

// LoadStore reads siz bytes at laddr, then writes those same siz bytes
// to saddr, as one transactional unit.
func (vt *vmemTx) LoadStore(laddr, saddr uintptr, siz int) {
	tmp := make([]byte, siz)
	lframes := vt.touch(laddr, siz, opLoad)
	vt.readRegion(laddr, siz, lframes, tmp)

	frames := vt.touch(saddr, siz, opLoadStore)
	vt.recordRegionStore(saddr, siz, frames, tmp, true)
	vt.tx.InjectEvent(vt.moduleID(), opLoadStore, 0)
}

// readRegion fills dst with this transaction's current view of
// [addr, addr+len(dst)): each covering frame's pending shadow content if
// it has one, falling back to live memory for a frame touched only by a
// Load (or not yet read at all, which touch has just remedied).
func (vt *vmemTx) readRegion(addr uintptr, siz int, frames []*frame.Frame, dst []byte) {
	regionStart := addr
	regionEnd := addr + uintptr(siz)
	for _, fr := range frames {
		frStart := fr.Address()
		frEnd := frStart + frame.BlockSize

		start := maxUintptr(frStart, regionStart)
		end := minUintptr(frEnd, regionEnd)
		if start >= end {
			continue
		}

		full := vt.log.Shadow(fr)
		if full == nil {
			full = make([]byte, frame.BlockSize)
			vt.vmem.Heap.read(frStart, full)
		}
		copy(dst[start-regionStart:end-regionStart], full[start-frStart:end-frStart])
	}
}

// Privatize excludes [addr, addr+siz) from other transactions' view for
// the remainder of this transaction, without reading or writing it.
func (vt *vmemTx) Privatize(addr uintptr, siz int) {
	vt.touch(addr, siz, opPrivatize)
	vt.tx.InjectEvent(vt.moduleID(), opPrivatize, 0)
}

// PrivatizeC is Privatize for the region starting at addr up to and
// including the first byte equal to c, bounded by maxLen bytes (standing
// in for strlen-based sizing in the C API, which has no natural Go
// equivalent without a raw pointer). If c does not occur within maxLen
// bytes, exactly maxLen bytes are privatized.
func (vt *vmemTx) PrivatizeC(addr uintptr, c byte, maxLen int) {
	n := 0
	for ; n < maxLen; n++ {
		var b [1]byte
		vt.vmem.Heap.read(addr+uintptr(n), b[:])
		if b[0] == c {
			break
		}
	}
	if n < maxLen {
		n++ // include the terminator
	}
	vt.Privatize(addr, n)
}

// recordRegionStore splits a multi-frame store into per-frame After
// buffers, since pagelog.Entry tracks one frame at a time. It starts
// each frame's new content from the frame's current shadow view (its
// pending After if already stored to this attempt, else its Before
// snapshot) rather than live memory, so a second store touching only
// part of an already-touched frame doesn't discard bytes an earlier
// store in the same attempt wrote outside the new range.
func (vt *vmemTx) recordRegionStore(addr uintptr, siz int, frames []*frame.Frame, content []byte, loadStore bool) {
	regionStart := addr
	regionEnd := addr + uintptr(siz)
	for _, fr := range frames {
		frStart := fr.Address()
		frEnd := frStart + frame.BlockSize

		start := maxUintptr(frStart, regionStart)
		end := minUintptr(frEnd, regionEnd)
		if start >= end {
			continue
		}

		full := make([]byte, frame.BlockSize)
		if shadow := vt.log.Shadow(fr); shadow != nil {
			copy(full, shadow)
		} else {
			vt.vmem.Heap.read(frStart, full)
		}
		copy(full[start-frStart:end-frStart], content[start-regionStart:end-regionStart])

		if loadStore {
			vt.log.RecordLoadStore(fr, full, full)
		} else {
			vt.log.RecordStore(fr, full, full)
		}
	}
}

func maxUintptr(a, b uintptr) uintptr {
	if a > b {
		return a
	}
	return b
}

func minUintptr(a, b uintptr) uintptr {
	if a < b {
		return a
	}
	return b
}

func (vt *vmemTx) moduleID() uint32 {
	return vt.module
}

// lock re-verifies that every frame this attempt touched is still held
// by it. Since touch() acquires frames eagerly at first access rather
// than deferring to commit, this is a consistency check, not a fresh
// acquisition — matching tm_vmem_tx_lock's role once tm_frame_try_lock
// already happened inline during ld/st.
func (vt *vmemTx) lock(err *perror.Error) {
	sort.Slice(vt.acquired, func(i, j int) bool {
		return vt.acquired[i].BlockIndex() < vt.acquired[j].BlockIndex()
	})
	for _, fr := range vt.acquired {
		if !fr.IsOwnedBy(uintptr(vt.tx.ID)) {
			*err = *perror.NewConflicting(fr)
			return
		}
	}
}

func (vt *vmemTx) unlock(err *perror.Error) {
	for _, fr := range vt.acquired {
		fr.Unlock()
	}
}

func (vt *vmemTx) validate(eotx bool, err *perror.Error) {
	for _, fr := range vt.acquired {
		if !fr.IsOwnedBy(uintptr(vt.tx.ID)) {
			*err = *perror.NewConflicting(fr)
			return
		}
	}
}

func (vt *vmemTx) apply(err *perror.Error) {
	vt.log.Apply(func(fr *frame.Frame, content []byte) {
		vt.vmem.Heap.write(fr.Address(), content)
	})
}

func (vt *vmemTx) undo(err *perror.Error) {
	vt.log.Undo(func(fr *frame.Frame, content []byte) {
		vt.vmem.Heap.write(fr.Address(), content)
	})
}

func (vt *vmemTx) finish(err *perror.Error) {
	for _, fr := range vt.acquired {
		fr.Unlock()
	}
	vt.acquired = vt.acquired[:0]
	vt.log.Reset()
}
