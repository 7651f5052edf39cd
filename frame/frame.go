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

// Package frame is the lockable, fixed-size block of process address
// space the TM module serializes access to, plus the lazily populated
// atomic radix trie (Map) that maps an address to its Frame. Grounded on
// original_source/lib/modules/tm/src/frame.c and framemap.c.
package frame

import (
	"sync/atomic"
)

// BlockSizeBits is the log2 of a frame's byte size. The reference value
// from the source is 3 (8-byte blocks); it must align with the caller's
// allocator granularity and cache-line size.
const BlockSizeBits = 3

// BlockSize is the size in bytes of one frame.
const BlockSize = 1 << BlockSizeBits

// BlockMask clears the in-block offset bits of an address.
const BlockMask = ^uintptr(BlockSize - 1)

// BlockIndexAt returns the block index covering addr.
func BlockIndexAt(addr uintptr) uint64 {
	return uint64(addr) / BlockSize
}

// BlockOffsetAt returns the block-aligned base address of the frame
// covering addr.
func BlockOffsetAt(addr uintptr) uintptr {
	return addr & BlockMask
}

// Frame represents one fixed-size block of address space. owner is
// non-zero only while some transaction holds the frame for write; it is
// set and cleared only via atomic compare-and-swap. blockIndex is
// immutable after construction.
type Frame struct {
	blockIndex uint64
	owner      atomic.Uintptr // 0 if free, else the owning transaction's identity
}

// Init sets the immutable block index of a freshly allocated frame. It
// must be called exactly once, before the frame is published into a Map.
func (f *Frame) Init(blockIndex uint64) {
	f.blockIndex = blockIndex
	f.owner.Store(0)
}

// BlockIndex returns the frame's immutable block index.
func (f *Frame) BlockIndex() uint64 {
	return f.blockIndex
}

// Address returns the block-aligned base address this frame represents.
func (f *Frame) Address() uintptr {
	return uintptr(f.blockIndex) * BlockSize
}

// Owner returns the identity of the transaction currently holding this
// frame for write, or 0 if free.
func (f *Frame) Owner() uintptr {
	return f.owner.Load()
}

// TryLock attempts to claim the frame for owner (a non-zero transaction
// identity, typically a *txn.Tx address or ID). It performs a
// test-and-test-and-set: a cheap load first, then a CompareAndSwap, so
// contended frames don't pay for the atomic RMW when clearly busy.
func (f *Frame) TryLock(owner uintptr) bool {
	if owner == 0 {
		panic("frame: owner must be non-zero")
	}
	if f.owner.Load() != 0 {
		return false
	}
	return f.owner.CompareAndSwap(0, owner)
}

// Unlock releases the frame. It is a no-op if the frame is already free.
func (f *Frame) Unlock() {
	f.owner.Store(0)
}

// IsOwnedBy reports whether owner currently holds this frame.
func (f *Frame) IsOwnedBy(owner uintptr) bool {
	return f.owner.Load() == owner
}
