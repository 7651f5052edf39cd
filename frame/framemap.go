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

package frame

import (
	"sync/atomic"

	nlrm "github.com/launix-de/NonLockingReadMap"
)

// Level schedule: a small root fanout followed by three 10-bit directory
// levels and a 10-bit leaf table, covering the 48-bit canonical user
// virtual address space once BlockSizeBits (3) is subtracted
// (5 + 10 + 10 + 10 + 10 + 3 = 48) — a small, fixed number of levels, as
// spec.md §3 requires, sized so each lazily-allocated leaf table stays a
// manageable 1024 frames and no level is ever allocated eagerly in full.
// Grounded on original_source/lib/modules/tm/src/framemap.c, whose
// TLD/DIR/TBL derivation follows the same "remainder root, repeated
// directories, final table" shape, generalized here to a uniform
// per-level fanout.
const (
	rootBits  = 5
	dirBits   = 10
	tblBits   = 10
	dirLevels = 3
)

type atomicNodePtr = atomic.Pointer[node]

// node is one level of the trie: either an interior node (children
// populated, frames nil) or a leaf table (frames populated, children
// nil). Using one type for both lets every level share the same
// CompareAndSwap installation path.
type node struct {
	children []atomicNodePtr
	frames   []Frame

	// populated marks which child slots of a last-level directory node
	// hold an installed leaf table, in the style of storage's
	// shardOverlay NonBlockingBitMap. Only leaf installation sets it;
	// installs of interior children are not recorded. Lookup never reads
	// it: the child pointer alone decides presence.
	populated nlrm.NonBlockingBitMap
}

func newInteriorNode() *node {
	return &node{children: make([]atomicNodePtr, 1<<dirBits)}
}

func newLeafNode(firstBlockIndex uint64) *node {
	n := &node{frames: make([]Frame, 1<<tblBits)}
	for i := range n.frames {
		n.frames[i].Init(firstBlockIndex + uint64(i))
	}
	return n
}

// Map is the lazily populated, lock-free-read radix trie from address to
// Frame. A Frame exists for a given address iff every trie node on its
// path has been installed; installation uses compare-and-swap so at most
// one node per slot is ever visible, regardless of how many goroutines
// race to install it.
type Map struct {
	root []atomicNodePtr
}

// NewMap returns an empty frame map with no interior or leaf nodes
// allocated yet beyond the fixed-size root array.
func NewMap() *Map {
	return &Map{root: make([]atomicNodePtr, 1<<rootBits)}
}

// index extracts a width-bit field of addr, counting from bitsBelow bits
// above the block offset.
func index(addr uintptr, bitsBelow, width uint) uint64 {
	return (uint64(addr) >> bitsBelow) & ((1 << width) - 1)
}

// Lookup returns the Frame covering addr, lazily installing any missing
// trie levels. Reads are lock-free; at most one goroutine's installation
// of a given node becomes visible, the rest discover and reuse it via a
// failed CompareAndSwap and proceed with the winner's node.
func (m *Map) Lookup(addr uintptr) *Frame {
	// Address bit layout, high to low:
	// [ rootBits | dirBits x dirLevels | tblBits | BlockSizeBits ]
	bitsBelow := uint(dirBits*dirLevels + tblBits + BlockSizeBits)
	idx := index(addr, bitsBelow, rootBits)

	// The root slot holds the first directory node; each further
	// directory node hangs off its parent's children.
	slot := &m.root[idx]
	n := loadOrInstallInterior(slot)

	for l := 1; l < dirLevels; l++ {
		bitsBelow -= dirBits
		idx = index(addr, bitsBelow, dirBits)
		slot = &n.children[idx]
		n = loadOrInstallInterior(slot)
	}

	// The last directory level's bits select the leaf table.
	bitsBelow -= dirBits
	tblIdx := index(addr, bitsBelow, dirBits)
	tblSlot := &n.children[tblIdx]
	firstBlockIndex := BlockIndexAt(addr) &^ ((1 << tblBits) - 1)
	leafNode := loadOrInstallLeaf(tblSlot, firstBlockIndex, n, tblIdx)

	leafIdx := BlockIndexAt(addr) & ((1 << tblBits) - 1)
	return &leafNode.frames[leafIdx]
}

func loadOrInstallInterior(slot *atomicNodePtr) *node {
	if existing := slot.Load(); existing != nil {
		return existing
	}
	fresh := newInteriorNode()
	if slot.CompareAndSwap(nil, fresh) {
		return fresh
	}
	return slot.Load()
}

func loadOrInstallLeaf(slot *atomicNodePtr, firstBlockIndex uint64, parent *node, childIdx uint64) *node {
	if existing := slot.Load(); existing != nil {
		return existing
	}
	fresh := newLeafNode(firstBlockIndex)
	if slot.CompareAndSwap(nil, fresh) {
		parent.populated.Set(uint32(childIdx), true)
		return fresh
	}
	return slot.Load()
}

// PopulatedChildCount reports how many leaf tables have been installed
// directly under n. It is 0 for a node whose children are directory
// nodes, since those installs are not recorded in populated. It is
// intended for diagnostics, not the hot path.
func (n *node) PopulatedChildCount() uint {
	return n.populated.Count()
}
