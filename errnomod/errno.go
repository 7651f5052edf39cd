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

// Package errnomod is the errno module: it gives a transaction exactly
// one idempotent save of its last errno value,
// restored on abort and discarded on commit. Grounded on spec.md §4.5;
// there is no surviving original_source file for this module, so the
// Lock/Unlock/Validate-free callback shape below follows the same
// registry.Entry pattern as tm and fildes rather than a transliteration.
package errnomod

import (
	"sync"

	"github.com/picotm/txcore/perror"
	"github.com/picotm/txcore/registry"
	"github.com/picotm/txcore/txevent"
	"github.com/picotm/txcore/txn"
)

// RecoveryPolicy is part of the errno module's per-transaction state
// (spec.md §3: "recovery policy ∈ {Auto, Full}"); spec.md does not
// define a behavioral difference between the two beyond that shared
// state shape, so both apply and finish clear the saved flag the same
// way regardless of policy (spec.md §4.5: "apply, finish clear the
// saved flag") — see DESIGN.md for why this module doesn't invent a
// distinction the specification never draws.
type RecoveryPolicy int

const (
	RecoveryAuto RecoveryPolicy = iota
	RecoveryFull
)

// lastErrno is the Go stand-in for the C library's per-thread errno
// variable, kept per transaction: module code that performs a
// syscall-like operation records the result through SetLastErrno before
// calling Save.
var lastErrno struct {
	mu sync.Mutex
	m  map[*txn.Tx]int
}

func init() {
	lastErrno.m = make(map[*txn.Tx]int)
}

// SetLastErrno records tx's current errno value, ahead of a Save call.
func SetLastErrno(tx *txn.Tx, errno int) {
	lastErrno.mu.Lock()
	lastErrno.m[tx] = errno
	lastErrno.mu.Unlock()
}

// GetLastErrno returns the most recently recorded errno for tx.
func GetLastErrno(tx *txn.Tx) int {
	lastErrno.mu.Lock()
	defer lastErrno.mu.Unlock()
	return lastErrno.m[tx]
}

const opSave uint32 = 0

type state struct {
	tx       *txn.Tx
	module   uint32
	saved    bool
	savedVal int
	recovery RecoveryPolicy
}

var registered sync.Map // *txn.Tx -> *state

func getState(tx *txn.Tx) *state {
	if v, ok := registered.Load(tx); ok {
		return v.(*state)
	}
	st := &state{tx: tx}
	st.module = tx.Registry.Register(registry.Entry{
		Data: st,
		UndoEvent: func(events []txevent.Event, _ any, err *perror.Error) {
			if st.saved {
				SetLastErrno(tx, st.savedVal)
			}
		},
		ApplyEvent: func(events []txevent.Event, _ any, err *perror.Error) {
			// spec.md §4.5: "apply, finish clear the saved flag" — apply
			// never touches the live errno value, only undo does.
			st.saved = false
		},
		Finish: func(_ any, err *perror.Error) {
			st.saved = false
		},
		ClearCC: func(_ any, noUndo bool, err *perror.Error) {
			st.saved = false
		},
		Uninit: func(_ any) {
			registered.Delete(tx)
		},
	})
	registered.Store(tx, st)
	return st
}

// Save idempotently snapshots the current transaction's last errno into the
// transaction's module state. Only the first call within a transaction
// attempt has any effect; subsequent calls are no-ops, matching spec.md
// §4.5.
func Save() {
	tx := txn.Current()
	if tx == nil {
		registry.RecoverFrom(perror.NewErrorCode(perror.GeneralError).MarkNonRecoverable())
	}
	st := getState(tx)
	if st.saved {
		return
	}
	st.saved = true
	st.savedVal = GetLastErrno(tx)
	tx.InjectEvent(st.module, opSave, 0)
}

// SetRecovery configures the transaction's recovery policy field. See
// RecoveryPolicy's doc comment for what this module does and does not
// derive from it.
func SetRecovery(policy RecoveryPolicy) {
	tx := txn.Current()
	if tx == nil {
		registry.RecoverFrom(perror.NewErrorCode(perror.GeneralError).MarkNonRecoverable())
	}
	getState(tx).recovery = policy
}

// GetRecovery returns the transaction's current recovery policy.
func GetRecovery() RecoveryPolicy {
	tx := txn.Current()
	if tx == nil {
		return RecoveryAuto
	}
	return getState(tx).recovery
}
