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

import "testing"

func TestFrameTryLock(t *testing.T) {
	var f Frame
	f.Init(7)

	if !f.TryLock(1) {
		t.Fatal("TryLock(1) on a free frame should succeed")
	}
	if f.TryLock(2) {
		t.Fatal("TryLock(2) on a frame already held by 1 should fail")
	}
	if !f.IsOwnedBy(1) {
		t.Fatal("frame should report ownership by 1")
	}
	f.Unlock()
	if !f.TryLock(2) {
		t.Fatal("TryLock(2) should succeed once the frame is unlocked")
	}
}

func TestFrameAddress(t *testing.T) {
	var f Frame
	f.Init(3)
	if got, want := f.Address(), uintptr(3*BlockSize); got != want {
		t.Errorf("Address() = %d, want %d", got, want)
	}
}

func TestMapLookupStable(t *testing.T) {
	m := NewMap()
	addr := uintptr(0x1000)

	f1 := m.Lookup(addr)
	f2 := m.Lookup(addr)
	if f1 != f2 {
		t.Fatal("Lookup(addr) must return the same *Frame on repeated calls")
	}

	other := m.Lookup(addr + BlockSize)
	if f1 == other {
		t.Fatal("Lookup of a different block must return a distinct *Frame")
	}
	if other.BlockIndex() != f1.BlockIndex()+1 {
		t.Errorf("adjacent blocks should have adjacent indices: %d, %d", f1.BlockIndex(), other.BlockIndex())
	}
}

func TestMapLookupFarApart(t *testing.T) {
	m := NewMap()
	// Addresses far enough apart to land in different root slots,
	// exercising lazy interior-node installation past the first level.
	a := m.Lookup(uintptr(0))
	b := m.Lookup(uintptr(1) << 45)
	if a == b {
		t.Fatal("widely separated addresses must not alias the same frame")
	}
}
