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

package exprlang

import (
	"fmt"
	"strings"

	"github.com/vitrodb/vitrocore/bsonval"
	"github.com/vitrodb/vitrocore/pathtree"
)

func init() {
	registerOp("$add", arithmeticFold(0, func(a, b float64) float64 { return a + b }))
	registerOp("$multiply", arithmeticFold(1, func(a, b float64) float64 { return a * b }))
	registerOp("$subtract", arithmeticPair(func(a, b float64) float64 { return a - b }))
	registerOp("$divide", arithmeticPair(func(a, b float64) float64 {
		if b == 0 {
			return 0
		}
		return a / b
	}))
	registerOp("$mod", arithmeticPair(func(a, b float64) float64 {
		if b == 0 {
			return 0
		}
		return float64(int64(a) % int64(b))
	}))

	registerOp("$eq", comparisonOp(func(o bsonval.Ordering) bool { return o == bsonval.Equal }))
	registerOp("$ne", comparisonOp(func(o bsonval.Ordering) bool { return o != bsonval.Equal }))
	registerOp("$gt", comparisonOp(func(o bsonval.Ordering) bool { return o == bsonval.Greater }))
	registerOp("$gte", comparisonOp(func(o bsonval.Ordering) bool { return o != bsonval.Less }))
	registerOp("$lt", comparisonOp(func(o bsonval.Ordering) bool { return o == bsonval.Less }))
	registerOp("$lte", comparisonOp(func(o bsonval.Ordering) bool { return o != bsonval.Greater }))
	registerOp("$cmp", func(source bsonval.Value, vars pathtree.VariableLookup, args []pathtree.Expression) (bsonval.Value, bool) {
		if len(args) != 2 {
			return bsonval.Value{}, false
		}
		a, _ := args[0](source, vars)
		b, _ := args[1](source, vars)
		return intValue(int64(bsonval.Compare(a, b, nil))), true
	})

	registerOp("$and", logicalFold(true, func(acc, v bool) bool { return acc && v }))
	registerOp("$or", logicalFold(false, func(acc, v bool) bool { return acc || v }))
	registerOp("$not", func(source bsonval.Value, vars pathtree.VariableLookup, args []pathtree.Expression) (bsonval.Value, bool) {
		if len(args) != 1 {
			return bsonval.Value{}, false
		}
		v, _ := args[0](source, vars)
		return boolValue(!truthy(v)), true
	})

	registerOp("$ifNull", func(source bsonval.Value, vars pathtree.VariableLookup, args []pathtree.Expression) (bsonval.Value, bool) {
		for _, a := range args {
			v, ok := a(source, vars)
			if ok && v.Type() != bsonval.TypeNull && !v.IsZero() {
				return v, true
			}
		}
		return bsonval.Value{}, false
	})
	registerOp("$cond", func(source bsonval.Value, vars pathtree.VariableLookup, args []pathtree.Expression) (bsonval.Value, bool) {
		if len(args) != 3 {
			return bsonval.Value{}, false
		}
		cond, _ := args[0](source, vars)
		if truthy(cond) {
			return args[1](source, vars)
		}
		return args[2](source, vars)
	})

	registerOp("$concat", func(source bsonval.Value, vars pathtree.VariableLookup, args []pathtree.Expression) (bsonval.Value, bool) {
		var sb strings.Builder
		for _, a := range args {
			v, ok := a(source, vars)
			if !ok {
				return bsonval.Value{}, false
			}
			sb.WriteString(stringify(v))
		}
		return stringValue(sb.String()), true
	})
	registerOp("$toUpper", unaryString(strings.ToUpper))
	registerOp("$toLower", unaryString(strings.ToLower))
	registerOp("$trim", unaryString(strings.TrimSpace))

	registerOp("$toString", func(source bsonval.Value, vars pathtree.VariableLookup, args []pathtree.Expression) (bsonval.Value, bool) {
		if len(args) != 1 {
			return bsonval.Value{}, false
		}
		v, ok := args[0](source, vars)
		if !ok {
			return bsonval.Value{}, false
		}
		return stringValue(stringify(v)), true
	})
	registerOp("$toDouble", unaryNumeric(func(f float64) bsonval.Value { return doubleValue(f) }))
	registerOp("$toInt", unaryNumeric(func(f float64) bsonval.Value { return intValue(int64(f)) }))
	registerOp("$toBool", func(source bsonval.Value, vars pathtree.VariableLookup, args []pathtree.Expression) (bsonval.Value, bool) {
		if len(args) != 1 {
			return bsonval.Value{}, false
		}
		v, ok := args[0](source, vars)
		if !ok {
			return bsonval.Value{}, false
		}
		return boolValue(truthy(v)), true
	})

	registerOp("$size", func(source bsonval.Value, vars pathtree.VariableLookup, args []pathtree.Expression) (bsonval.Value, bool) {
		if len(args) != 1 {
			return bsonval.Value{}, false
		}
		v, ok := args[0](source, vars)
		if !ok {
			return bsonval.Value{}, false
		}
		arr, ok := v.Array()
		if !ok {
			return bsonval.Value{}, false
		}
		n := 0
		it := arr.Iterate()
		for _, ok := it.Next(); ok; _, ok = it.Next() {
			n++
		}
		return intValue(int64(n)), true
	})
	registerOp("$arrayElemAt", func(source bsonval.Value, vars pathtree.VariableLookup, args []pathtree.Expression) (bsonval.Value, bool) {
		if len(args) != 2 {
			return bsonval.Value{}, false
		}
		v, ok := args[0](source, vars)
		if !ok {
			return bsonval.Value{}, false
		}
		arr, ok := v.Array()
		if !ok {
			return bsonval.Value{}, false
		}
		idxVal, ok := args[1](source, vars)
		if !ok {
			return bsonval.Value{}, false
		}
		idxF, _ := idxVal.AsFloat64()
		idx := int(idxF)
		elems := arrayElements(arr)
		if idx < 0 {
			idx = len(elems) + idx
		}
		if idx < 0 || idx >= len(elems) {
			return bsonval.Value{}, false
		}
		return elems[idx], true
	})
	registerOp("$in", func(source bsonval.Value, vars pathtree.VariableLookup, args []pathtree.Expression) (bsonval.Value, bool) {
		if len(args) != 2 {
			return bsonval.Value{}, false
		}
		needle, ok := args[0](source, vars)
		if !ok {
			return bsonval.Value{}, false
		}
		hay, ok := args[1](source, vars)
		if !ok {
			return boolValue(false), true
		}
		arr, ok := hay.Array()
		if !ok {
			return boolValue(false), true
		}
		for _, v := range arrayElements(arr) {
			if bsonval.Equals(needle, v, nil) {
				return boolValue(true), true
			}
		}
		return boolValue(false), true
	})

	registerOp("$type", func(source bsonval.Value, vars pathtree.VariableLookup, args []pathtree.Expression) (bsonval.Value, bool) {
		if len(args) != 1 {
			return bsonval.Value{}, false
		}
		v, ok := args[0](source, vars)
		if !ok {
			return stringValue("missing"), true
		}
		return stringValue(v.Type().String()), true
	})
}

func arrayElements(arr bsonval.Document) []bsonval.Value {
	var out []bsonval.Value
	it := arr.Iterate()
	for el, ok := it.Next(); ok; el, ok = it.Next() {
		out = append(out, el.Value)
	}
	return out
}

func arithmeticFold(identity float64, f func(a, b float64) float64) opFunc {
	return func(source bsonval.Value, vars pathtree.VariableLookup, args []pathtree.Expression) (bsonval.Value, bool) {
		acc := identity
		for _, a := range args {
			v, ok := a(source, vars)
			if !ok {
				return bsonval.Value{}, false
			}
			n, ok := v.AsFloat64()
			if !ok {
				return bsonval.Value{}, false
			}
			acc = f(acc, n)
		}
		return doubleValue(acc), true
	}
}

func arithmeticPair(f func(a, b float64) float64) opFunc {
	return func(source bsonval.Value, vars pathtree.VariableLookup, args []pathtree.Expression) (bsonval.Value, bool) {
		if len(args) != 2 {
			return bsonval.Value{}, false
		}
		av, ok := args[0](source, vars)
		if !ok {
			return bsonval.Value{}, false
		}
		bv, ok := args[1](source, vars)
		if !ok {
			return bsonval.Value{}, false
		}
		a, ok := av.AsFloat64()
		if !ok {
			return bsonval.Value{}, false
		}
		b, ok := bv.AsFloat64()
		if !ok {
			return bsonval.Value{}, false
		}
		return doubleValue(f(a, b)), true
	}
}

func comparisonOp(accept func(bsonval.Ordering) bool) opFunc {
	return func(source bsonval.Value, vars pathtree.VariableLookup, args []pathtree.Expression) (bsonval.Value, bool) {
		if len(args) != 2 {
			return bsonval.Value{}, false
		}
		a, _ := args[0](source, vars)
		b, _ := args[1](source, vars)
		return boolValue(accept(bsonval.Compare(a, b, nil))), true
	}
}

func logicalFold(identity bool, f func(acc, v bool) bool) opFunc {
	return func(source bsonval.Value, vars pathtree.VariableLookup, args []pathtree.Expression) (bsonval.Value, bool) {
		acc := identity
		for _, a := range args {
			v, ok := a(source, vars)
			acc = f(acc, ok && truthy(v))
		}
		return boolValue(acc), true
	}
}

func unaryString(f func(string) string) opFunc {
	return func(source bsonval.Value, vars pathtree.VariableLookup, args []pathtree.Expression) (bsonval.Value, bool) {
		if len(args) != 1 {
			return bsonval.Value{}, false
		}
		v, ok := args[0](source, vars)
		if !ok {
			return bsonval.Value{}, false
		}
		s, ok := v.StringValue()
		if !ok {
			return bsonval.Value{}, false
		}
		return stringValue(f(s)), true
	}
}

func unaryNumeric(build func(float64) bsonval.Value) opFunc {
	return func(source bsonval.Value, vars pathtree.VariableLookup, args []pathtree.Expression) (bsonval.Value, bool) {
		if len(args) != 1 {
			return bsonval.Value{}, false
		}
		v, ok := args[0](source, vars)
		if !ok {
			return bsonval.Value{}, false
		}
		f, ok := v.AsFloat64()
		if !ok {
			return bsonval.Value{}, false
		}
		return build(f), true
	}
}

// truthy implements MongoDB's boolean-coercion rule: everything is truthy
// except false, null, missing, and numeric zero.
func truthy(v bsonval.Value) bool {
	if v.IsZero() {
		return false
	}
	switch v.Type() {
	case bsonval.TypeNull, bsonval.TypeUndefined:
		return false
	case bsonval.TypeBoolean:
		b, _ := v.Bool()
		return b
	}
	if f, ok := v.AsFloat64(); ok {
		return f != 0
	}
	return true
}

// stringify renders v for $concat/$toString, matching the scalar subset
// MongoDB's string coercion supports.
func stringify(v bsonval.Value) string {
	switch v.Type() {
	case bsonval.TypeString:
		s, _ := v.StringValue()
		return s
	case bsonval.TypeBoolean:
		b, _ := v.Bool()
		return fmt.Sprintf("%t", b)
	case bsonval.TypeNull, bsonval.TypeUndefined:
		return ""
	default:
		if f, ok := v.AsFloat64(); ok {
			if f == float64(int64(f)) {
				return fmt.Sprintf("%d", int64(f))
			}
			return fmt.Sprintf("%g", f)
		}
		return ""
	}
}
