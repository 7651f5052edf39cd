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

// Package tm is the TM module: load/store/load-store/privatize on a
// shared Heap, synchronized at frame granularity and made transactional
// through a per-transaction page log. Grounded on
// original_source/lib/modules/tm/src/tm.c, frame.c, vmem_tx.h.
package tm

import (
	"sync"

	"github.com/dc0d/onexit"
	"github.com/picotm/txcore/frame"
)

// VMem is the process-wide virtual memory a Heap's frames are drawn
// from: one frame.Map per heap. tm.c keeps a single static g_vmem
// lazily initialized behind a mutex and torn down via atexit; Global
// reproduces that with sync.Once and onexit.Register.
type VMem struct {
	Heap   *Heap
	Frames *frame.Map
}

func newVMem(heapSize int) *VMem {
	return &VMem{
		Heap:   NewHeap(heapSize),
		Frames: frame.NewMap(),
	}
}

// DefaultHeapSize is used by Global when no prior call to SetHeapSize has
// configured a different size.
const DefaultHeapSize = 64 << 20

var (
	globalOnce sync.Once
	globalVMem *VMem
	heapSize   = DefaultHeapSize
)

// SetHeapSize configures the heap size Global will use the first time
// it's called. It has no effect once Global has already run.
func SetHeapSize(size int) {
	heapSize = size
}

// Global returns the process-wide VMem, initializing it on first use and
// registering its (best-effort) teardown to run at process exit, the Go
// stand-in for tm.c's atexit(vmem_atexit_cb).
func Global() *VMem {
	globalOnce.Do(func() {
		globalVMem = newVMem(heapSize)
		onexit.Register(func() {
			globalVMem = nil
		})
	})
	return globalVMem
}
