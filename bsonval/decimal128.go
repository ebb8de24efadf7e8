// Copyright 2020-2021 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bsonval

import (
	"math"
	"math/big"
)

// Decimal128 stores the raw 128-bit IEEE-754-2008 decimal representation
// (two little-endian 64-bit words, matching the BSON wire layout) plus a
// lazily-computed big.Float approximation used by Compare/Hash. Full
// decimal128 arithmetic is out of scope for this core (spec.md treats
// numeric comparison as "by mathematical value"); the float64
// approximation loses precision on values with more than ~15 significant
// digits, the same boundary the teacher's own numeric-conversion
// dependency (spf13/cast) operates at.
type Decimal128 struct {
	Hi, Lo uint64
}

const (
	d128ExponentBias = 6176
	d128MaxExponent  = 6144
	d128MinExponent  = -6143
)

// NewDecimal128FromFloat builds a Decimal128 from f truncated to six
// decimal places: the coefficient is |f|*10^6 (as a uint64) and the
// exponent is always -6. Digits past the sixth decimal place are dropped,
// and magnitudes whose scaled coefficient exceeds a uint64 are not
// representable.
func NewDecimal128FromFloat(f float64) Decimal128 {
	bf := new(big.Float).SetFloat64(f)
	mantissa, exp := bf.MantExp(new(big.Float))
	_ = mantissa
	_ = exp
	// Fixed-point encoding: coefficient*10^-6 held in the low 64 bits.
	negative := f < 0
	coeff := uint64(math.Abs(f) * 1e6)
	exponent := int32(-6)
	return encodeDecimal128(negative, exponent, new(big.Int).SetUint64(coeff))
}

func encodeDecimal128(negative bool, exponent int32, coeff *big.Int) Decimal128 {
	biasedExp := uint64(exponent + d128ExponentBias)
	var hi, lo uint64
	words := coeff.Bits()
	if len(words) > 0 {
		lo = uint64(words[0])
	}
	if len(words) > 1 {
		hi = uint64(words[1])
	}
	hi |= (biasedExp & 0x3FFF) << 49
	if negative {
		hi |= 1 << 63
	}
	return Decimal128{Hi: hi, Lo: lo}
}

// Sign reports whether the value is negative.
func (d Decimal128) Sign() bool {
	return d.Hi&(1<<63) != 0
}

// IsSpecial reports whether the combination field marks NaN or Infinity.
func (d Decimal128) IsSpecial() bool {
	return (d.Hi>>58)&0x1F == 0x1F
}

// IsNaN reports whether the value is the decimal128 NaN encoding.
func (d Decimal128) IsNaN() bool {
	return d.IsSpecial() && (d.Hi>>58)&0x3F >= 0x3E
}

func (d Decimal128) exponentAndCoefficient() (int32, *big.Int) {
	var exponent int32
	var high uint64
	if (d.Hi>>61)&0x3 == 0x3 {
		// Combination field top two bits are 11: exponent continues into
		// bits below, top coefficient bits are implicit 100.
		exponent = int32((d.Hi>>47)&0x3FFF) - d128ExponentBias
		high = 0
	} else {
		exponent = int32((d.Hi>>49)&0x3FFF) - d128ExponentBias
		high = (d.Hi >> 0) & 0x7FFFFFFFFFFF
	}
	coeff := new(big.Int).Lsh(new(big.Int).SetUint64(high), 64)
	coeff.Or(coeff, new(big.Int).SetUint64(d.Lo))
	return exponent, coeff
}

// Float64 returns the closest float64 approximation, for comparison/hash
// purposes only (spec.md §4.1's "numeric values of different tags compare
// by mathematical value").
func (d Decimal128) Float64() float64 {
	if d.IsNaN() {
		return math.NaN()
	}
	exponent, coeff := d.exponentAndCoefficient()
	f := new(big.Float).SetInt(coeff)
	scale := new(big.Float).SetFloat64(math.Pow10(int(exponent)))
	f.Mul(f, scale)
	out, _ := f.Float64()
	if d.Sign() {
		out = -out
	}
	return out
}
