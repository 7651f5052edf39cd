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
	"testing"

	"github.com/picotm/txcore/txn"
)

func openTemp(t *testing.T, content []byte) (string, int) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "fildes-test-*")
	if err != nil {
		t.Fatalf("CreateTemp failed: %v", err)
	}
	if len(content) > 0 {
		if _, err := f.Write(content); err != nil {
			t.Fatalf("seed write failed: %v", err)
		}
	}
	path := f.Name()
	f.Close()

	var fd int
	err = txn.Begin(txn.Config{}, func(tx *txn.Tx) error {
		var oerr error
		fd, oerr = Open(path)
		return oerr
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return path, fd
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	_, fd := openTemp(t, nil)

	err := txn.Begin(txn.Config{}, func(tx *txn.Tx) error {
		if _, err := Write(fd, []byte("hello")); err != nil {
			return err
		}
		if _, err := Seek(fd, 0, os.SEEK_SET); err != nil {
			return err
		}
		buf := make([]byte, 5)
		if _, err := Read(fd, buf); err != nil {
			return err
		}
		if string(buf) != "hello" {
			t.Errorf("read back %q, want %q", buf, "hello")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("txn.Begin returned %v, want nil", err)
	}
}

func TestWriteIsUndoneOnAbort(t *testing.T) {
	_, fd := openTemp(t, []byte("before"))

	err := txn.Begin(txn.Config{}, func(tx *txn.Tx) error {
		if _, err := Seek(fd, 0, os.SEEK_SET); err != nil {
			return err
		}
		if _, err := Write(fd, []byte("AFTER!")); err != nil {
			return err
		}
		return os.ErrClosed // any non-nil error forces abort
	})
	if err == nil {
		t.Fatal("expected the forced error to propagate")
	}

	err = txn.Begin(txn.Config{}, func(tx *txn.Tx) error {
		if _, err := Seek(fd, 0, os.SEEK_SET); err != nil {
			return err
		}
		buf := make([]byte, 6)
		if _, err := Read(fd, buf); err != nil {
			return err
		}
		if string(buf) != "before" {
			t.Errorf("content after abort = %q, want %q (write should have been undone)", buf, "before")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verifying txn.Begin returned %v, want nil", err)
	}
}

func TestSeekIsUndoneOnAbort(t *testing.T) {
	_, fd := openTemp(t, []byte("0123456789"))

	err := txn.Begin(txn.Config{}, func(tx *txn.Tx) error {
		if _, err := Seek(fd, 0, os.SEEK_SET); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed txn.Begin returned %v, want nil", err)
	}

	err = txn.Begin(txn.Config{}, func(tx *txn.Tx) error {
		if _, err := Seek(fd, 5, os.SEEK_SET); err != nil {
			return err
		}
		return os.ErrClosed
	})
	if err == nil {
		t.Fatal("expected the forced error to propagate")
	}

	err = txn.Begin(txn.Config{}, func(tx *txn.Tx) error {
		buf := make([]byte, 1)
		if _, err := Read(fd, buf); err != nil {
			return err
		}
		if buf[0] != '0' {
			t.Errorf("offset after abort reads %q, want %q (seek should have been undone)", buf, "0")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verifying txn.Begin returned %v, want nil", err)
	}
}

func TestCloseTransitionsStateAndUndoRestoresInUse(t *testing.T) {
	_, fd := openTemp(t, nil)

	err := txn.Begin(txn.Config{}, func(tx *txn.Tx) error {
		if err := Close(fd); err != nil {
			return err
		}
		return os.ErrClosed
	})
	if err == nil {
		t.Fatal("expected the forced error to propagate")
	}

	d, ok := global.lookup(fd)
	if !ok {
		t.Fatal("descriptor should still be present after an aborted close")
	}
	if d.State() != InUse {
		t.Errorf("state after aborted close = %v, want InUse", d.State())
	}
}

func TestCloseCommitsReleasesDescriptor(t *testing.T) {
	_, fd := openTemp(t, nil)

	err := txn.Begin(txn.Config{}, func(tx *txn.Tx) error {
		return Close(fd)
	})
	if err != nil {
		t.Fatalf("txn.Begin returned %v, want nil", err)
	}

	if _, ok := global.lookup(fd); ok {
		t.Error("descriptor should be released from the table after a committed close")
	}
}

func TestMkstempCreatesFileAndWildcardsPattern(t *testing.T) {
	dir := t.TempDir()
	var path string
	var fd int

	err := txn.Begin(txn.Config{}, func(tx *txn.Tx) error {
		var oerr error
		fd, path, oerr = Mkstemp(dir, "tmpfile")
		return oerr
	})
	if err != nil {
		t.Fatalf("txn.Begin returned %v, want nil", err)
	}
	if path == "" {
		t.Fatal("Mkstemp did not return a path")
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Errorf("temp file should exist after commit: %v", statErr)
	}
	if _, ok := global.lookup(fd); !ok {
		t.Error("Mkstemp should register its descriptor in the table")
	}
}

func TestMkstempIsRemovedOnAbort(t *testing.T) {
	dir := t.TempDir()
	var path string

	err := txn.Begin(txn.Config{}, func(tx *txn.Tx) error {
		var oerr error
		_, path, oerr = Mkstemp(dir, "tmpfile")
		if oerr != nil {
			return oerr
		}
		return os.ErrClosed
	})
	if err == nil {
		t.Fatal("expected the forced error to propagate")
	}
	if _, statErr := os.Stat(path); statErr == nil {
		t.Error("temp file should have been removed on abort")
	}
}

func TestUniqueSuffixProducesDistinctWildcards(t *testing.T) {
	a := withWildcard("prefix")
	b := withWildcard("prefix")
	if a == b {
		t.Error("withWildcard should append a distinct suffix on each call")
	}
	if p := withWildcard("has*wildcard"); p != "has*wildcard" {
		t.Errorf("withWildcard must leave an explicit wildcard pattern untouched, got %q", p)
	}
}
