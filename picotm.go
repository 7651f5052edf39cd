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

// Package picotm is the public facade over the transaction runtime and
// its modules: the single import an application needs for
// Begin/Run/RestartTx/GoIrrevocable, module registration, and the TM
// module's transactional memory operations. Grounded on spec.md §6's
// external-interface list, reshaped from the source's C-ABI function
// catalog into the handful of calls an idiomatic Go caller needs — the
// rest of spec.md §6 (register_module, append_event/inject_event, the
// error accessors) is re-exported thinly from registry, txn and perror
// rather than duplicated.
package picotm

import (
	"github.com/picotm/txcore/perror"
	"github.com/picotm/txcore/registry"
	"github.com/picotm/txcore/tm"
	"github.com/picotm/txcore/txn"
)

// Config bounds a transaction's restart policy. The zero value selects
// txn.DefaultConfig.
type Config = txn.Config

// Tx is the handle a transaction body receives, re-exported so callers
// never need to import package txn directly.
type Tx = txn.Tx

// Error is the structured failure descriptor every accessor below reads
// from, re-exported so callers never need to import package perror
// directly.
type Error = perror.Error

// Begin runs body inside a fresh transaction with the default restart
// policy, exactly as Run does with Config{}.
func Begin(body func(tx *Tx) error) error {
	return txn.Begin(Config{}, body)
}

// Run runs body inside a fresh transaction governed by cfg, retrying on
// conflict up to cfg.MaxRestarts times before forcing the transaction
// Irrevocable. It returns the first error that is not a Conflicting one,
// or nil on a successful commit — the picotm_begin/picotm_commit/picotm_end block's
// Go equivalent.
func Run(cfg Config, body func(tx *Tx) error) error {
	return txn.Begin(cfg, body)
}

// RestartTx aborts and restarts the calling goroutine's running
// transaction unconditionally, as if a Conflicting error had been
// raised with no specific contending resource. Useful for application
// code that detects a retry condition the registered modules could not
// see themselves.
func RestartTx() {
	registry.RecoverFrom(perror.NewConflicting(nil))
}

// GoIrrevocable promotes the calling goroutine's running transaction to
// Irrevocable mode, or restarts it if Irrevocable cannot be granted
// because another transaction process-wide already holds the token.
func GoIrrevocable() {
	tx := txn.Current()
	if tx == nil {
		registry.RecoverFrom(perror.NewErrorCode(perror.GeneralError).MarkNonRecoverable())
	}
	if err := tx.GoIrrevocable(); err != nil {
		registry.RecoverFrom(perror.NewConflicting(nil))
	}
}

// RecoverFrom is how module and application code signals a failure to
// the transaction's recovery phase: Conflicting errors restart the
// transaction, everything else escalates to Begin's caller. It never
// returns.
func RecoverFrom(err *Error) {
	registry.RecoverFrom(err)
}

// RegisterModule registers a new module's callback set with the calling
// goroutine's running transaction and returns its module id, for use
// with AppendEvent/InjectEvent.
func RegisterModule(entry registry.Entry) uint32 {
	tx := txn.Current()
	if tx == nil {
		registry.RecoverFrom(perror.NewErrorCode(perror.GeneralError).MarkNonRecoverable())
	}
	return tx.Registry.Register(entry)
}

// AppendEvent records one operation's opcode and undo/redo cookie
// against module in the running transaction's event log.
func AppendEvent(module, opcode, cookie uint32) {
	tx := txn.Current()
	if tx == nil {
		registry.RecoverFrom(perror.NewErrorCode(perror.GeneralError).MarkNonRecoverable())
	}
	tx.AppendEvent(module, opcode, cookie)
}

// InjectEvent is AppendEvent for module code that needs an event
// recorded even though the operation that triggered it produced no
// opcode of its own (errnomod.Save's idempotent first call, for
// example).
func InjectEvent(module, opcode, cookie uint32) {
	tx := txn.Current()
	if tx == nil {
		registry.RecoverFrom(perror.NewErrorCode(perror.GeneralError).MarkNonRecoverable())
	}
	tx.InjectEvent(module, opcode, cookie)
}

// ErrorStatus reports what kind of failure err carries.
func ErrorStatus(err error) perror.Kind {
	perr, ok := err.(*Error)
	if !ok || perr == nil {
		return perror.NoError
	}
	return perr.Kind
}

// ErrorAsErrno returns (errno, true) if err is an Errno-kind failure.
func ErrorAsErrno(err error) (int, bool) {
	perr, ok := err.(*Error)
	if !ok {
		return 0, false
	}
	return perr.AsErrno()
}

// ErrorMarkConflicting builds a Conflicting error carrying handle, the
// Go stand-in for the source's picotm_error_mark_conflicting.
func ErrorMarkConflicting(handle any) *Error {
	return perror.NewConflicting(handle)
}

// Load reads len(buf) bytes at addr into buf under the TM module, within the
// calling goroutine's running transaction.
func Load(addr uintptr, buf []byte) {
	tm.Load(addr, buf)
}

// Store writes buf to addr under the TM module.
func Store(addr uintptr, buf []byte) {
	tm.Store(addr, buf)
}

// LoadStore reads siz bytes at laddr and writes them to saddr as one
// transactional unit under the TM module.
func LoadStore(laddr, saddr uintptr, siz int) {
	tm.LoadStore(laddr, saddr, siz)
}

// Privatize excludes [addr, addr+siz) from other transactions' view for
// the remainder of the running transaction.
func Privatize(addr uintptr, siz int) {
	tm.Privatize(addr, siz)
}

// PrivatizeC is Privatize for the region up to and including the first
// byte equal to c, bounded by maxLen.
func PrivatizeC(addr uintptr, c byte, maxLen int) {
	tm.PrivatizeC(addr, c, maxLen)
}
