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

package arith

// Integer is every native integer type the cast module converts between,
// signed or unsigned.
type Integer interface {
	Signed | Unsigned
}

// CastSigned converts value, a signed integer of type S, to signed
// integer type D, reporting ERANGE if value falls outside D's range.
// Grounded on original_source/modules/cast's PICOTM_CAST_TX, specialized
// to the signed-to-signed branch ("source and destination have the same
// signedness" in the original's terms).
func CastSigned[S, D Signed](value S) D {
	dmin, dmax := signedBounds[D]()
	if int64(value) < int64(dmin) {
		reportUnderflow()
	} else if int64(value) > int64(dmax) {
		reportOverflow()
	}
	return D(value)
}

// CastUnsigned converts value, an unsigned integer of type S, to
// unsigned integer type D, reporting ERANGE if value exceeds D's range.
// Unsigned destination types have no minimum above zero to underflow
// into.
func CastUnsigned[S, D Unsigned](value S) D {
	dmax := unsignedMax[D]()
	if uint64(value) > uint64(dmax) {
		reportOverflow()
	}
	return D(value)
}

// CastSignedToUnsigned converts a signed value to an unsigned type,
// reporting ERANGE if value is negative (underflow: no unsigned
// representation exists) or exceeds the destination's range.
func CastSignedToUnsigned[S Signed, D Unsigned](value S) D {
	if value < 0 {
		reportUnderflow()
		return 0
	}
	dmax := unsignedMax[D]()
	if uint64(value) > uint64(dmax) {
		reportOverflow()
	}
	return D(value)
}

// CastUnsignedToSigned converts an unsigned value to a signed type,
// reporting ERANGE if value exceeds the destination's maximum.
func CastUnsignedToSigned[S Unsigned, D Signed](value S) D {
	_, dmax := signedBounds[D]()
	if uint64(value) > uint64(dmax) {
		reportOverflow()
	}
	return D(value)
}
