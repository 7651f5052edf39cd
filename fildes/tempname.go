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
	"encoding/binary"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var nameCounter uint64 = uint64(time.Now().UnixNano())

// uniqueSuffix returns a UUIDv4-shaped value built from a counter and the
// clock rather than crypto/rand, so a process creating many temp files in
// a tight loop (spec.md's mkstemp scenario among them) never stalls on
// low-entropy systems for a property that only needs to be collision-free,
// not unpredictable.
func uniqueSuffix() string {
	ctr := atomic.AddUint64(&nameCounter, 1)
	now := uint64(time.Now().UnixNano())
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], ctr)
	binary.LittleEndian.PutUint64(b[8:16], ctr^now^(now<<17))
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return strings.ReplaceAll(uuid.UUID(b).String(), "-", "")
}

// withWildcard appends a uniqueSuffix-derived "*" pattern to pattern if it
// does not already contain one, matching os.CreateTemp's own convention
// for where the random component goes.
func withWildcard(pattern string) string {
	if strings.Contains(pattern, "*") {
		return pattern
	}
	return pattern + "*" + uniqueSuffix()[:8]
}
