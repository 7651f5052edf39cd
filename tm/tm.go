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

package tm

import (
	"github.com/picotm/txcore/perror"
	"github.com/picotm/txcore/registry"
	"github.com/picotm/txcore/txn"
)

// currentVMemTx returns the TM module state for the running transaction,
// panicking with registry.RecoverFrom if called outside one — the Go
// stand-in for tm.c's get_vmem_tx() returning NULL on ENOMEM.
func currentVMemTx() *vmemTx {
	tx := txn.Current()
	if tx == nil {
		registry.RecoverFrom(perror.NewErrorCode(perror.GeneralError).MarkNonRecoverable())
	}
	return getVMemTx(tx)
}

// Load reads len(buf) bytes at addr into buf, within the running
// transaction.
func Load(addr uintptr, buf []byte) {
	currentVMemTx().Load(addr, buf, len(buf))
}

// Store writes buf to addr, within the running transaction.
func Store(addr uintptr, buf []byte) {
	currentVMemTx().Store(addr, buf, len(buf))
}

// LoadStore copies siz bytes from laddr to saddr as one transactional
// step, matching __picotm_tm_loadstore's combined read/write.
func LoadStore(laddr, saddr uintptr, siz int) {
	currentVMemTx().LoadStore(laddr, saddr, siz)
}

// Privatize excludes [addr, addr+siz) from other transactions' view for
// the remainder of the running transaction.
func Privatize(addr uintptr, siz int) {
	currentVMemTx().Privatize(addr, siz)
}

// PrivatizeC privatizes the region starting at addr up to and including
// the first byte equal to c, scanning at most maxLen bytes for it.
func PrivatizeC(addr uintptr, c byte, maxLen int) {
	currentVMemTx().PrivatizeC(addr, c, maxLen)
}
