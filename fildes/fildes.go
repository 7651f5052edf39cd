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

// Package fildes is the file-table module: a process-wide table of
// open file descriptors layered over shared, identity-deduplicated file
// buffers, plus the per-transaction bookkeeping (saved offsets, undo
// content, Irrevocable requests) spec.md §4.6 describes. Grounded on
// spec.md §4.6 directly; original_source's libc/fildes sources ship the
// real syscall plumbing this module deliberately excludes (non-goal:
// "wrapper-function catalogs for libc/libm/socket/stat").
package fildes

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/google/btree"
	nlrm "github.com/launix-de/NonLockingReadMap"

	"github.com/picotm/txcore/perror"
	"github.com/picotm/txcore/registry"
	"github.com/picotm/txcore/txevent"
	"github.com/picotm/txcore/txn"
)

// State is a file descriptor's position in spec.md §4.6's state machine.
type State int

const (
	Unused State = iota
	InUse
	Closing
)

// FileType distinguishes concurrency-control modes: regular files use
// two-phase locking and support undo; sockets are Irrevocable-only.
type FileType int

const (
	TypeRegular FileType = iota
	TypeSocket
)

// bufferKey identifies a shared FileBuffer by absolute path rather than
// the (device, inode) pair a real kernel would use: Go's standard
// library has no portable syscall-free way to read raw inode numbers,
// and path identity is sufficient to dedupe descriptors opened twice
// against the same file within one process.
type bufferKey struct {
	Path string
	Type FileType
}

// FileBuffer is the state shared by every descriptor pointing at the
// same underlying file, deduplicated by identity.
type FileBuffer struct {
	Key bufferKey

	mu      sync.RWMutex // guards Offset/Content/Dirty for the span of each single operation
	Offset  int64
	Content []byte // in-memory stand-in for the file's persisted bytes
	Dirty   bool

	refs int
}

// Descriptor is a per-descriptor wrapper over a shared FileBuffer,
// analogous to a kernel open file description.
type Descriptor struct {
	FD     int
	File   *os.File
	Buffer *FileBuffer

	mu    sync.RWMutex
	state State
}

func (d *Descriptor) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// table is the process-wide descriptor table. btreeByFD keeps the open
// fds in ascending order alongside byFD; nothing in this package walks
// it, and descriptor locks are taken in each transaction's first-touch
// order (see touch), not in fd order.
type table struct {
	mu        sync.Mutex
	byFD      map[int]*Descriptor
	btreeByFD *btree.BTreeG[int]
	buffers   map[bufferKey]*FileBuffer

	// closing is a per-fd bitmap in the style of storage's
	// NonLockingReadMap-backed shardOverlay. release clears an fd's bit;
	// nothing sets or reads it — the Closing state a concurrent
	// transaction observes is Descriptor.state, checked under d.mu.
	closing nlrm.NonBlockingBitMap
}

var global = newTable()

func newTable() *table {
	return &table{
		byFD:      make(map[int]*Descriptor),
		btreeByFD: btree.NewG[int](32, func(a, b int) bool { return a < b }),
		buffers:   make(map[bufferKey]*FileBuffer),
	}
}

// open registers a new descriptor over the buffer identified by key,
// creating the buffer if this is the first reference to it.
func (t *table) open(fd int, f *os.File, key bufferKey) *Descriptor {
	t.mu.Lock()
	defer t.mu.Unlock()

	buf, ok := t.buffers[key]
	if !ok {
		buf = &FileBuffer{Key: key}
		t.buffers[key] = buf
	}
	buf.refs++

	d := &Descriptor{FD: fd, File: f, Buffer: buf, state: InUse}
	t.byFD[fd] = d
	t.btreeByFD.ReplaceOrInsert(fd)
	return d
}

func (t *table) lookup(fd int) (*Descriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.byFD[fd]
	return d, ok
}

// release removes fd from the table and drops the shared buffer if this
// was its last reference.
func (t *table) release(fd int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.byFD[fd]
	if !ok {
		return
	}
	delete(t.byFD, fd)
	t.btreeByFD.Delete(fd)
	d.Buffer.refs--
	if d.Buffer.refs <= 0 {
		delete(t.buffers, d.Buffer.Key)
	}
	t.closing.Set(uint32(fd), false)
	if d.File != nil {
		d.File.Close()
	}
}

// Open opens path read-only, registers the descriptor in the
// process-wide table and returns its fd. The first open of a file loads
// its current bytes into the shared buffer's Content. Regular files
// only; sockets are out of scope (non-goal: wrapper-function catalogs
// for socket/stat).
func Open(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return -1, err
	}
	abs, err := absPath(path)
	if err != nil {
		f.Close()
		return -1, err
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		f.Close()
		return -1, err
	}
	fd := int(f.Fd())
	key := bufferKey{Path: abs, Type: TypeRegular}
	d := global.open(fd, f, key)
	d.Buffer.mu.Lock()
	if d.Buffer.Content == nil {
		d.Buffer.Content = content
	}
	d.Buffer.mu.Unlock()
	return fd, nil
}

func absPath(path string) (string, error) {
	return filepath.Abs(path)
}
