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

import "unsafe"

// Heap is a fixed-size byte-addressable region whose addresses are real
// Go pointers reinterpreted as uintptr, the same way storage/storage-int.go
// reinterprets a []uint64 chunk as a raw byte slice via unsafe.Slice. The
// TM module's Load/Store/LoadStore/Privatize operations address memory
// through a Heap rather than arbitrary process memory, since picotm's C
// runtime protects malloc'd/static storage it owns, not Go's entire
// address space.
type Heap struct {
	buf  []byte
	base uintptr
}

// NewHeap allocates a heap of size bytes.
func NewHeap(size int) *Heap {
	buf := make([]byte, size)
	var base uintptr
	if len(buf) > 0 {
		base = uintptr(unsafe.Pointer(&buf[0]))
	}
	return &Heap{buf: buf, base: base}
}

// Base returns the address of the heap's first byte.
func (h *Heap) Base() uintptr { return h.base }

// Size returns the heap's length in bytes.
func (h *Heap) Size() int { return len(h.buf) }

// Addr translates a byte offset into the heap into its address.
func (h *Heap) Addr(offset int) uintptr { return h.base + uintptr(offset) }

// Contains reports whether addr falls within the heap.
func (h *Heap) Contains(addr uintptr) bool {
	return addr >= h.base && addr < h.base+uintptr(len(h.buf))
}

// read copies siz bytes starting at addr into buf.
func (h *Heap) read(addr uintptr, buf []byte) {
	off := addr - h.base
	copy(buf, h.buf[off:off+uintptr(len(buf))])
}

// write copies content into the heap starting at addr.
func (h *Heap) write(addr uintptr, content []byte) {
	off := addr - h.base
	copy(h.buf[off:off+uintptr(len(content))], content)
}
