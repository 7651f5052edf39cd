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
package main

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dc0d/onexit"
	units "github.com/docker/go-units"

	"github.com/picotm/txcore/allocator"
	"github.com/picotm/txcore/arith"
	"github.com/picotm/txcore/errnomod"
	"github.com/picotm/txcore/picotm"
	"github.com/picotm/txcore/tm"
	"github.com/picotm/txcore/txn"
)

func main() {
	fmt.Print(`picotm Copyright (C) 2026 The picotm Authors
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)
	defer onexit.Exit(0)

	fmt.Println("heap size:", units.BytesSize(float64(tm.Global().Heap.Size())))

	counterAddr := tm.Global().Heap.Addr(0)
	writeUint32(counterAddr, 0)

	incrementBy(counterAddr, 1000)
	fmt.Println("counter after 2x1000 conflict-free increments:", readUint32(counterAddr))

	demoAllocatorUndo()
	demoErrnoAcrossRestart()
	demoArithmeticOverflow()
}

// incrementBy runs n transactions on each of two goroutines, each loading
// the shared counter, incrementing it by one and storing it back. Every
// transaction touches the same 32-bit word, so this also exercises the TM
// module's page-level conflict detection: whichever goroutine finds the
// counter's frame already locked restarts and observes the winner's value.
func incrementBy(addr uintptr, n int) {
	var wg sync.WaitGroup
	wg.Add(2)
	worker := func() {
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
				panic(fmt.Errorf("increment transaction failed: %w", err))
			}
		}
	}
	txn.Go(func() { worker() })
	worker()
	wg.Wait()
}

func readUint32(addr uintptr) uint32 {
	var v uint32
	err := picotm.Begin(func(tx *picotm.Tx) error {
		var b [4]byte
		tm.Load(addr, b[:])
		v = binary.LittleEndian.Uint32(b[:])
		return nil
	})
	if err != nil {
		panic(err)
	}
	return v
}

func writeUint32(addr uintptr, v uint32) {
	err := picotm.Begin(func(tx *picotm.Tx) error {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		tm.Store(addr, b[:])
		return nil
	})
	if err != nil {
		panic(err)
	}
}

// demoAllocatorUndo mallocs 128 bytes, then aborts the transaction that
// allocated them; the allocator module's undo path drops the reference so
// the block never outlives the failed attempt.
func demoAllocatorUndo() {
	var ptr allocator.Ptr
	var allocatedLen int
	err := picotm.Begin(func(tx *picotm.Tx) error {
		ptr = allocator.Malloc(128)
		allocatedLen = len(allocator.Bytes(ptr))
		return fmt.Errorf("forced abort to exercise allocator undo")
	})
	fmt.Println("allocator-undo demo transaction result:", err, "allocated bytes before abort:", allocatedLen)
	_ = ptr
}

// demoErrnoAcrossRestart shows the errno module restoring a saved errno
// across a conflict-triggered restart: the first attempt clobbers errno
// after saving it, then forces a restart; the second attempt observes
// the restored value rather than the clobbered one.
func demoErrnoAcrossRestart() {
	attempts := 0
	var restoredErrno int
	err := picotm.Run(picotm.Config{MaxRestarts: 1}, func(tx *picotm.Tx) error {
		attempts++
		if attempts == 1 {
			errnomod.SetLastErrno(tx, 5)
			errnomod.Save()
			errnomod.SetLastErrno(tx, 99) // simulate a syscall clobbering errno
			picotm.RestartTx()
		}
		restoredErrno = errnomod.GetLastErrno(tx)
		errnomod.Save()
		return nil
	})
	fmt.Println("errno-across-restart demo result:", err, "attempts:", attempts, "errno after restart:", restoredErrno)
}

// demoArithmeticOverflow shows add_int_tx(INT_MAX, 1) surfacing Errno(ERANGE)
// instead of silently wrapping.
func demoArithmeticOverflow() {
	const maxInt32 = int32(1<<31 - 1)
	err := picotm.Begin(func(tx *picotm.Tx) error {
		arith.AddS(maxInt32, int32(1))
		return nil
	})
	errno, isErrno := picotm.ErrorAsErrno(err)
	fmt.Println("arithmetic-overflow demo result:", err, "errno:", errno, "isErrno:", isErrno)
}
