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

package txn

import (
	"errors"
	"testing"

	"github.com/picotm/txcore/perror"
	"github.com/picotm/txcore/registry"
	"github.com/picotm/txcore/txevent"
)

func TestBeginCommitsSuccessfulBody(t *testing.T) {
	ran := false
	err := Begin(Config{}, func(tx *Tx) error {
		ran = true
		if tx.State != Active {
			t.Errorf("state during body = %v, want Active", tx.State)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Begin returned %v, want nil", err)
	}
	if !ran {
		t.Fatal("body was never invoked")
	}
}

func TestBeginPropagatesOrdinaryBodyError(t *testing.T) {
	want := errors.New("boom")
	err := Begin(Config{}, func(tx *Tx) error { return want })
	if err != want {
		t.Fatalf("Begin returned %v, want %v", err, want)
	}
}

func TestBeginRestartsOnConflictingThenSucceeds(t *testing.T) {
	attempts := 0
	err := Begin(Config{MaxRestarts: 4}, func(tx *Tx) error {
		attempts++
		if attempts == 1 {
			registry.RecoverFrom(perror.NewConflicting(nil))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Begin returned %v, want nil", err)
	}
	if attempts != 2 {
		t.Fatalf("body ran %d times, want 2 (one conflict, one success)", attempts)
	}
}

func TestBeginDoesNotRetryErrno(t *testing.T) {
	attempts := 0
	err := Begin(Config{MaxRestarts: 4}, func(tx *Tx) error {
		attempts++
		registry.RecoverFrom(perror.NewErrno(5))
		return nil
	})
	if err == nil {
		t.Fatal("Begin should surface the Errno failure, not swallow it")
	}
	if attempts != 1 {
		t.Fatalf("Errno failures must not trigger a restart, body ran %d times", attempts)
	}
}

func TestBeginForcesIrrevocableAfterMaxRestarts(t *testing.T) {
	attempts := 0
	sawIrrevocable := false
	err := Begin(Config{MaxRestarts: 1}, func(tx *Tx) error {
		attempts++
		if attempts <= 2 {
			registry.RecoverFrom(perror.NewConflicting(nil))
		}
		sawIrrevocable = tx.IsIrrevocable()
		return nil
	})
	if err != nil {
		t.Fatalf("Begin returned %v, want nil", err)
	}
	if !sawIrrevocable {
		t.Error("after exhausting MaxRestarts the transaction should be forced Irrevocable")
	}
}

func TestAbortUndoesEventsTailToHeadAcrossModules(t *testing.T) {
	var undone []string

	err := Begin(Config{}, func(tx *Tx) error {
		modA := tx.Registry.Register(registry.Entry{
			UndoEvent: func(events []txevent.Event, _ any, err *perror.Error) {
				undone = append(undone, "A")
			},
		})
		modB := tx.Registry.Register(registry.Entry{
			UndoEvent: func(events []txevent.Event, _ any, err *perror.Error) {
				undone = append(undone, "B")
			},
		})
		tx.AppendEvent(modA, 0, 0)
		tx.AppendEvent(modB, 0, 0)
		tx.AppendEvent(modA, 0, 1)
		return errors.New("force abort")
	})
	if err == nil {
		t.Fatal("expected the forced body error to propagate")
	}
	// Runs, tail to head: [A] then [B] then [A] -> undo order A, B, A.
	want := []string{"A", "B", "A"}
	if len(undone) != len(want) {
		t.Fatalf("undo order = %v, want %v", undone, want)
	}
	for i := range want {
		if undone[i] != want[i] {
			t.Fatalf("undo order = %v, want %v", undone, want)
		}
	}
}

func TestSortByIdentityOrdersDeterministically(t *testing.T) {
	items := []string{"c", "a", "b"}
	SortByIdentity(items, func(s string) string { return s })
	if items[0] != "a" || items[1] != "b" || items[2] != "c" {
		t.Errorf("SortByIdentity result = %v, want [a b c]", items)
	}
}
