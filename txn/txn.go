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

// Package txn is the per-goroutine transaction state machine: the
// begin/commit/abort/restart driver that every registered module plugs
// into. It is grounded on storage/transaction.go's TxContext — the
// closest analogue in the retrieval pack to picotm's core: a per-thread
// context with an undo log applied on rollback and an OCC overlay applied
// under deterministic multi-resource lock ordering on commit.
package txn

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jtolds/gls"

	"github.com/picotm/txcore/perror"
	"github.com/picotm/txcore/registry"
	"github.com/picotm/txcore/txevent"
)

// State tracks the lifecycle of a transaction, matching spec.md §3's
// state machine exactly.
type State uint8

const (
	Inactive State = iota
	Active
	Committing
	Aborting
	Irrevocable
	Poisoned
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	case Committing:
		return "committing"
	case Aborting:
		return "aborting"
	case Irrevocable:
		return "irrevocable"
	case Poisoned:
		return "poisoned"
	default:
		return "unknown"
	}
}

// Config bounds the restart policy. Defaults match a conservative,
// bounded-backoff retry policy; zero value uses DefaultConfig.
type Config struct {
	MaxRestarts int // after this many restarts, force Irrevocable
	BackoffBase int // any positive value enables backoff of restart-count-squared scheduling yields; 0 disables it
}

// DefaultConfig is used by NewTx when Config is the zero value.
var DefaultConfig = Config{MaxRestarts: 8, BackoffBase: 50}

// txIDCounter assigns each transaction a process-wide monotonic ID, which
// also becomes its Priority. No code path compares priorities.
var txIDCounter uint64

// globalIrrevocable is the single token serializing Irrevocable mode
// process-wide (spec.md §5, "Global irrevocable token").
var globalIrrevocable sync.Mutex

// Tx is one goroutine's transaction context. It is bound to the calling
// goroutine (and any goroutine spawned from it via txn.Go) through
// goroutine-local storage, the Go stand-in for __thread.
type Tx struct {
	ID       uint64
	Priority uint64 // lower priority = older; recorded only, never compared

	State       State
	Attempt     int
	irrevocable bool

	Registry *registry.Registry
	Log      *txevent.Log

	cfg Config

	mu sync.Mutex
}

var ctxMgr = gls.NewContextManager()

const glsKeyTx = "picotm.tx"

// Current returns the calling goroutine's active transaction, or nil if
// none is bound (mirrors the source's lazily-initialized static __thread
// module state — callers create one via Begin).
func Current() *Tx {
	if v, ok := ctxMgr.GetValue(glsKeyTx); ok {
		return v.(*Tx)
	}
	return nil
}

// Go spawns fn in a new goroutine that inherits the calling goroutine's
// bound transaction, so code running in fn sees the same transaction its
// parent entered.
func Go(fn func()) {
	gls.Go(fn)
}

// newTx allocates a fresh, Inactive transaction context.
func newTx(cfg Config) *Tx {
	if cfg.MaxRestarts == 0 {
		cfg = DefaultConfig
	}
	id := atomic.AddUint64(&txIDCounter, 1)
	return &Tx{
		ID:       id,
		Priority: id, // lower id = older
		Registry: &registry.Registry{},
		Log:      &txevent.Log{},
		cfg:      cfg,
	}
}

// Begin runs body inside a fresh transaction bound to the calling
// goroutine, retrying on Conflicting errors up to cfg.MaxRestarts times
// (after which the transaction is forced Irrevocable) and returning the
// first error that is not a Conflicting one. It is the restart landing pad described in
// spec.md §9: a sentinel-panic recovery point standing in for the
// source's longjmp-based restart environment.
func Begin(cfg Config, body func(tx *Tx) error) (err error) {
	tx := newTx(cfg)
	tx.State = Active

	for {
		runErr := tx.attempt(body)
		if runErr == nil {
			return nil
		}

		perr, isPicotmErr := runErr.(*perror.Error)
		if !isPicotmErr {
			return runErr
		}

		if !perr.IsConflicting() {
			// Non-conflicting errors (Errno, ErrorCode, KernelCode)
			// are not restarted; attempt already marked the
			// transaction Poisoned if it was Irrevocable.
			return perr
		}

		tx.Attempt++
		if tx.Attempt > tx.cfg.MaxRestarts {
			if ierr := tx.goIrrevocableLocked(); ierr != nil {
				return ierr
			}
			continue // Irrevocable transactions do not restart again
		}
		backoff(tx.cfg, tx.Attempt)
	}
}

// attempt binds tx to the calling goroutine, clears per-transaction logs,
// runs body, and commits or aborts based on the outcome. A Conflicting
// error raised anywhere beneath body (via registry.RecoverFrom) unwinds
// here through recover — the panic-based analogue of longjmp restart.
func (tx *Tx) attempt(body func(tx *Tx) error) (err error) {
	tx.mu.Lock()
	tx.State = Active
	tx.mu.Unlock()
	tx.Log.Reset()

	defer func() {
		if r := recover(); r != nil {
			perr, ok := registry.Recovered(r)
			if !ok {
				panic(r) // foreign panic: propagate, do not swallow
			}
			if tx.IsIrrevocable() {
				tx.mu.Lock()
				tx.State = Poisoned
				tx.mu.Unlock()
				perr.MarkNonRecoverable()
				err = perr
				return
			}
			tx.abortInternal()
			err = perr
			return
		}
	}()

	var bodyErr error
	ctxMgr.SetValues(gls.Values{glsKeyTx: tx}, func() {
		bodyErr = body(tx)
	})
	if bodyErr != nil {
		if tx.IsIrrevocable() {
			// spec.md §4.1: an Irrevocable transaction must not
			// restart; any error it raises is fatal.
			tx.mu.Lock()
			tx.State = Poisoned
			tx.mu.Unlock()
			if perr, ok := bodyErr.(*perror.Error); ok {
				perr.MarkNonRecoverable()
				return perr
			}
			return bodyErr
		}
		tx.abortInternal()
		if perr, ok := bodyErr.(*perror.Error); ok {
			return perr
		}
		return bodyErr
	}

	return tx.Commit()
}

func backoff(cfg Config, attempt int) {
	if cfg.BackoffBase <= 0 {
		return
	}
	// Quadratic backoff measured in scheduling yields, not wall-clock
	// sleep: restart contention in tests must stay deterministic.
	for i := 0; i < attempt*attempt; i++ {
		runtime.Gosched()
	}
}

// AppendEvent is the sole way module code introduces work into the event
// log. It is the per-transaction counterpart of registry.Register:
// registration happens once, append happens once per operation.
func (tx *Tx) AppendEvent(module, opcode, cookie uint32) {
	tx.Log.Append(module, opcode, cookie)
}

// InjectEvent records an event even when no opcode is otherwise emitted
// by the caller — used by the errno module's idempotent save().
func (tx *Tx) InjectEvent(module, opcode, cookie uint32) {
	tx.Log.Append(module, opcode, cookie)
}

// IsIrrevocable reports whether tx is running in Irrevocable mode.
func (tx *Tx) IsIrrevocable() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.irrevocable
}

// GoIrrevocable promotes tx to Irrevocable mode. At most one transaction
// process-wide may hold the global token at a time; if another one holds
// it, GoIrrevocable returns a Conflicting error instead of waiting. A
// module that cannot be represented losslessly in Irrevocable mode should
// instead report Conflicting from its Lock/Validate callback, which
// causes a restart.
func (tx *Tx) GoIrrevocable() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.irrevocable {
		return nil
	}
	if !globalIrrevocable.TryLock() {
		return perror.NewConflicting(nil)
	}
	tx.irrevocable = true
	tx.State = Irrevocable
	return nil
}

func (tx *Tx) goIrrevocableLocked() error {
	if tx.irrevocable {
		return nil
	}
	globalIrrevocable.Lock()
	tx.irrevocable = true
	tx.State = Irrevocable
	return nil
}

// releaseIrrevocable is called from Commit/Abort's finish phase once the
// transaction holding the token is done with it.
func (tx *Tx) releaseIrrevocable() {
	if tx.irrevocable {
		tx.irrevocable = false
		globalIrrevocable.Unlock()
	}
}

// RecoverFrom is how module code signals failure upward without
// returning: see registry.RecoverFrom. Re-exported here so callers that
// only import txn don't also need registry.
func RecoverFrom(err *perror.Error) {
	registry.RecoverFrom(err)
}

// Commit proceeds in the five phases described in spec.md §4.1: lock,
// validate, apply, update_cc, finish. Any Conflicting error produced in
// phases 1-2 aborts and restarts (the caller, via Begin's retry loop);
// any other error is escalated — non-recoverable errors poison the
// transaction.
func (tx *Tx) Commit() error {
	tx.mu.Lock()
	tx.State = Committing
	modules := tx.Registry.Modules()
	tx.mu.Unlock()

	var perr perror.Error

	// Phase 1: lock, in registration order.
	for _, m := range modules {
		e := tx.Registry.Entry(m)
		if e == nil || e.Lock == nil {
			continue
		}
		perr = perror.Error{}
		e.Lock(e.Data, &perr)
		if perr.IsSet() {
			tx.unlockFrom(modules, m)
			tx.abortInternal()
			return &perr
		}
	}

	// Phase 2: validate, with end-of-transaction flag set.
	for _, m := range modules {
		e := tx.Registry.Entry(m)
		if e == nil || e.Validate == nil {
			continue
		}
		perr = perror.Error{}
		e.Validate(e.Data, true, &perr)
		if perr.IsSet() {
			tx.unlockFrom(modules, len(modules))
			tx.abortInternal()
			return &perr
		}
	}

	// Phase 3: apply, walking the event log head-to-tail.
	txevent.EachModuleRun(tx.Log.Events(), func(module uint32, run []txevent.Event) {
		if perr.IsSet() {
			return
		}
		e := tx.Registry.Entry(module)
		if e == nil || e.ApplyEvent == nil {
			return
		}
		perr = perror.Error{}
		e.ApplyEvent(run, e.Data, &perr)
	})
	if perr.IsSet() {
		// Apply is expected not to fail under correct module
		// implementations; if it does, the transaction cannot be
		// cleanly unwound and is poisoned.
		tx.mu.Lock()
		tx.State = Poisoned
		tx.mu.Unlock()
		perr.MarkNonRecoverable()
		return &perr
	}

	// Phase 4: update_cc, release concurrency control, registration
	// order.
	for _, m := range modules {
		e := tx.Registry.Entry(m)
		if e == nil || e.UpdateCC == nil {
			continue
		}
		perr = perror.Error{}
		e.UpdateCC(e.Data, tx.irrevocable, &perr)
	}

	// Phase 5: finish, then unlock.
	for _, m := range modules {
		e := tx.Registry.Entry(m)
		if e == nil || e.Finish == nil {
			continue
		}
		perr = perror.Error{}
		e.Finish(e.Data, &perr)
	}
	tx.unlockFrom(modules, len(modules))

	tx.mu.Lock()
	tx.State = Inactive
	tx.releaseIrrevocable()
	tx.mu.Unlock()

	return nil
}

// unlockFrom calls Unlock on every module in modules[:upto], in
// registration order, discarding errors from Unlock itself since we are
// already unwinding.
func (tx *Tx) unlockFrom(modules []uint32, upto int) {
	for i := 0; i < upto && i < len(modules); i++ {
		e := tx.Registry.Entry(modules[i])
		if e == nil || e.Unlock == nil {
			continue
		}
		var perr perror.Error
		e.Unlock(e.Data, &perr)
	}
}

// Abort walks the event log tail-to-head dispatching undo_event, then
// calls ClearCC in reverse registration order and Finish, per spec.md
// §4.1. It is safe to call directly (e.g. from module code that detects
// an unrecoverable local error) as well as from the Conflicting recovery
// path.
func (tx *Tx) Abort() {
	if tx.IsIrrevocable() {
		// Irrevocable transactions must not abort; a module that
		// gets here despite that invariant has a fatal bug.
		panic(fmt.Errorf("picotm: abort invoked on an Irrevocable transaction"))
	}
	tx.abortInternal()
}

func (tx *Tx) abortInternal() {
	tx.mu.Lock()
	tx.State = Aborting
	modules := tx.Registry.Modules()
	tx.mu.Unlock()

	txevent.ReverseModuleRuns(tx.Log.Events(), func(module uint32, run []txevent.Event) {
		e := tx.Registry.Entry(module)
		if e == nil || e.UndoEvent == nil {
			return
		}
		var perr perror.Error
		e.UndoEvent(run, e.Data, &perr)
	})

	for i := len(modules) - 1; i >= 0; i-- {
		e := tx.Registry.Entry(modules[i])
		if e == nil || e.ClearCC == nil {
			continue
		}
		var perr perror.Error
		e.ClearCC(e.Data, tx.irrevocable, &perr)
	}

	for _, m := range modules {
		e := tx.Registry.Entry(m)
		if e == nil || e.Finish == nil {
			continue
		}
		var perr perror.Error
		e.Finish(e.Data, &perr)
	}
	tx.unlockFrom(modules, len(modules))

	tx.mu.Lock()
	tx.State = Inactive
	tx.releaseIrrevocable()
	tx.mu.Unlock()
}

// SortByIdentity is a small helper for modules that must lock several
// shared resources in a deterministic order — grounded on
// storage/transaction.go's commitACID, which sorts touched shards by
// UUID string before locking them. Neither tm nor fildes calls it: tm
// sorts its frames by block index itself, and fildes locks descriptors
// in first-touch order.
func SortByIdentity[T any](items []T, key func(T) string) {
	sort.Slice(items, func(i, j int) bool {
		return key(items[i]) < key(items[j])
	})
}
