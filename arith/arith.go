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

// Package arith is the arithmetic module: addition, subtraction,
// multiplication and division that verify their result is representable
// in the destination type before returning it, reporting overflow,
// underflow or division by zero to the running transaction's recovery
// phase as an errno (ERANGE, EDOM) rather than wrapping or trapping
// silently. Pure and stateless, per spec.md §4.7.
//
// original_source/modules/arithmetic generates one function per C type
// from a family of preprocessor macros (PICOTM_ARITHMETIC_ADD_S_TX and
// siblings for subtraction, multiplication, division, each with signed,
// unsigned and floating-point variants), because C has no generic
// numeric abstraction. Go's type parameters collapse that macro family
// into one generic function per operator: AddS/SubS/MulS/DivS for every
// signed integer type, AddU/SubU/MulU/DivU for every unsigned type, and
// AddF/SubF/MulF/DivF for the native floating-point types.
package arith

import (
	"math"
	"math/bits"
	"syscall"

	"github.com/picotm/txcore/perror"
	"github.com/picotm/txcore/registry"
)

// Signed is every signed integer type the module range-checks for
// two's-complement overflow and underflow.
type Signed interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

// Unsigned is every unsigned integer type the module range-checks for
// overflow; unsigned types have no value below zero to underflow into.
type Unsigned interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Float is every native floating-point type the module checks for
// overflow into +/-Inf.
type Float interface {
	~float32 | ~float64
}

func reportOverflow() {
	registry.RecoverFrom(perror.NewErrno(int(syscall.ERANGE)))
}

func reportUnderflow() {
	registry.RecoverFrom(perror.NewErrno(int(syscall.ERANGE)))
}

func reportDivByZero() {
	registry.RecoverFrom(perror.NewErrno(int(syscall.EDOM)))
}

// signedBounds derives T's minimum and maximum representable value, the
// generic stand-in for the macros' explicit __min and __max parameters.
// Every concrete type in Signed is two's complement.
func signedBounds[T Signed]() (minVal, maxVal T) {
	var zero T
	switch any(zero).(type) {
	case int8:
		return T(math.MinInt8), T(math.MaxInt8)
	case int16:
		return T(math.MinInt16), T(math.MaxInt16)
	case int32:
		return T(math.MinInt32), T(math.MaxInt32)
	case int64:
		return T(math.MinInt64), T(math.MaxInt64)
	case int:
		if bits.UintSize == 32 {
			return T(math.MinInt32), T(math.MaxInt32)
		}
		return T(math.MinInt64), T(math.MaxInt64)
	}
	return 0, 0
}

// unsignedMax derives T's maximum representable value: the all-ones
// bit pattern, i.e. the bitwise complement of zero.
func unsignedMax[T Unsigned]() T {
	var zero T
	return ^zero
}

// AddS adds two signed integers of the same type, reporting ERANGE and
// restarting the transaction if the sum overflows or underflows T's
// range. Mirrors PICOTM_ARITHMETIC_ADD_S_TX's case split on the sign of
// rhs.
func AddS[T Signed](lhs, rhs T) T {
	minVal, maxVal := signedBounds[T]()
	switch {
	case rhs == 0:
		return lhs
	case rhs > 0:
		if maxVal-rhs < lhs {
			reportOverflow()
		}
	default:
		if lhs == 0 {
			return rhs
		}
		if minVal-rhs > lhs {
			reportUnderflow()
		}
	}
	return lhs + rhs
}

// SubS subtracts rhs from lhs, both signed integers of the same type,
// reporting ERANGE on overflow or underflow.
func SubS[T Signed](lhs, rhs T) T {
	minVal, maxVal := signedBounds[T]()
	switch {
	case rhs == 0:
		return lhs
	case rhs > 0:
		if minVal+rhs > lhs {
			reportUnderflow()
		}
	default:
		if maxVal+rhs < lhs {
			reportOverflow()
		}
	}
	return lhs - rhs
}

// MulS multiplies two signed integers of the same type, reporting
// ERANGE on overflow or underflow. It computes the product (which may
// wrap) and verifies it by dividing back out: for any two's-complement
// type, product/rhs == lhs holds iff the multiplication did not wrap,
// with one asymmetric exception (MinInt * -1, checked explicitly)
// because MinInt has no positive counterpart to wrap back from.
func MulS[T Signed](lhs, rhs T) T {
	minVal, _ := signedBounds[T]()
	if lhs == 0 || rhs == 0 {
		return 0
	}
	if (lhs == minVal && rhs == -1) || (rhs == minVal && lhs == -1) {
		reportOverflow()
		return 0
	}
	product := lhs * rhs
	if product/rhs != lhs {
		if (lhs > 0) == (rhs > 0) {
			reportOverflow()
		} else {
			reportUnderflow()
		}
		return 0
	}
	return product
}

// DivS divides lhs by rhs, both signed integers of the same type,
// reporting EDOM on division by zero and ERANGE for the one signed
// overflow divison can cause: MinInt / -1.
func DivS[T Signed](lhs, rhs T) T {
	minVal, _ := signedBounds[T]()
	if rhs == 0 {
		reportDivByZero()
		return 0
	}
	if lhs == minVal && rhs == -1 {
		reportOverflow()
		return 0
	}
	return lhs / rhs
}

// AddU adds two unsigned integers of the same type, reporting ERANGE on
// overflow. Unsigned addition has no underflow case.
func AddU[T Unsigned](lhs, rhs T) T {
	maxVal := unsignedMax[T]()
	if maxVal-rhs < lhs {
		reportOverflow()
	}
	return lhs + rhs
}

// SubU subtracts rhs from lhs, both unsigned integers of the same type,
// reporting ERANGE if rhs exceeds lhs (the only way unsigned subtraction
// underflows).
func SubU[T Unsigned](lhs, rhs T) T {
	if rhs > lhs {
		reportUnderflow()
	}
	return lhs - rhs
}

// MulU multiplies two unsigned integers of the same type, reporting
// ERANGE on overflow.
func MulU[T Unsigned](lhs, rhs T) T {
	maxVal := unsignedMax[T]()
	if rhs == 0 {
		return 0
	}
	if maxVal/rhs < lhs {
		reportOverflow()
	}
	return lhs * rhs
}

// DivU divides lhs by rhs, both unsigned integers of the same type,
// reporting EDOM on division by zero.
func DivU[T Unsigned](lhs, rhs T) T {
	if rhs == 0 {
		reportDivByZero()
		return 0
	}
	return lhs / rhs
}

// isFinite reports whether v is neither infinite nor NaN.
func isFinite[T Float](v T) bool {
	f := float64(v)
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}

// AddF adds two floating-point values, reporting ERANGE if a finite
// operand pair produces a non-finite (overflowed) result.
func AddF[T Float](lhs, rhs T) T {
	result := lhs + rhs
	if isFinite(lhs) && isFinite(rhs) && !isFinite(result) {
		if result > 0 {
			reportOverflow()
		} else {
			reportUnderflow()
		}
	}
	return result
}

// SubF subtracts rhs from lhs, reporting ERANGE if a finite operand pair
// produces a non-finite result.
func SubF[T Float](lhs, rhs T) T {
	result := lhs - rhs
	if isFinite(lhs) && isFinite(rhs) && !isFinite(result) {
		if result > 0 {
			reportOverflow()
		} else {
			reportUnderflow()
		}
	}
	return result
}

// MulF multiplies two floating-point values, reporting ERANGE if a
// finite operand pair produces a non-finite result.
func MulF[T Float](lhs, rhs T) T {
	result := lhs * rhs
	if isFinite(lhs) && isFinite(rhs) && !isFinite(result) {
		if result > 0 {
			reportOverflow()
		} else {
			reportUnderflow()
		}
	}
	return result
}

// DivF divides lhs by rhs, reporting EDOM for division by exactly zero
// and ERANGE if a finite operand pair otherwise produces a non-finite
// result.
func DivF[T Float](lhs, rhs T) T {
	if rhs == 0 {
		reportDivByZero()
		return 0
	}
	result := lhs / rhs
	if isFinite(lhs) && isFinite(rhs) && !isFinite(result) {
		if result > 0 {
			reportOverflow()
		} else {
			reportUnderflow()
		}
	}
	return result
}
