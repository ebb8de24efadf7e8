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

// Package dberrors declares the closed error-code taxonomy shared by every
// core component (spec.md §6.4, §7). Every code is a *errors.Kind built with
// gopkg.in/src-d/go-errors.v1, the same pattern the teacher uses for
// ErrNotAuthorized/ErrNoPermission: a package-level Kind wraps a message
// template, New()/Wrap() produce errors carrying that Kind, and Is() lets
// call sites test membership without sentinel comparison.
package dberrors

import (
	"fmt"

	errors "gopkg.in/src-d/go-errors.v1"
)

// Parse errors: surfaced to the caller, never swallowed.
var (
	BadValue         = errors.NewKind("bad value: %s")
	FailedToParse    = errors.NewKind("failed to parse: %s")
	TypeMismatch     = errors.NewKind("type mismatch: %s")
	PathCollision    = errors.NewKind("path collision at %q")
	PartialPathCollision = errors.NewKind("path %q collides with existing prefix %q")
)

// Semantic errors: surfaced to the caller.
var (
	NamespaceNotFound       = errors.NewKind("namespace not found: %s")
	IndexNotFound           = errors.NewKind("index not found: %s")
	UnableToFindIndex       = errors.NewKind("unable to find an index access method for: %s")
	IndexOptionsConflict    = errors.NewKind("index options conflict: %s")
	NotWritablePrimary      = errors.NewKind("not writable primary")
	OperationNotSupportedInTransaction = errors.NewKind("operation not supported in a transaction: %s")
	CommandNotSupported     = errors.NewKind("command not supported: %s")
	CollationMismatch       = errors.NewKind("collation mismatch: %s")
	NestedLimit             = errors.NewKind("nested pipeline depth exceeds limit: %d")
	StageSpecInvalid        = errors.NewKind("invalid stage spec for %s: %s")
	StageNotSupported       = errors.NewKind("stage not supported in this deployment: %s")
)

// Runtime / resource errors.
var (
	DiskFull          = errors.NewKind("disk full: %s")
	StaleConfig       = errors.NewKind("stale cluster configuration: %s")
	CursorNotFound    = errors.NewKind("cursor not found: %d")
	CursorKilled      = errors.NewKind("cursor killed: %d")
	Cancelled         = errors.NewKind("operation cancelled")
	MalformedEncoding = errors.NewKind("malformed BSON encoding at offset %d: %s")
	InternalError     = errors.NewKind("internal error: %s")
)

// locationKind is the shared Kind behind every numbered MongoDB-compat
// error (spec.md §6.4 `Location<number>`). A single Kind parametrized by
// the location number and message keeps the taxonomy closed while still
// letting every numbered error round-trip through Is().
var locationKind = errors.NewKind("Location%d: %s")

// Location builds a precisely-numbered MongoDB-compat error, e.g.
// dberrors.Location(51091, "field name cannot contain '.'").
func Location(number int, format string, args ...interface{}) error {
	return locationKind.New(number, fmt.Sprintf(format, args...))
}

// IsLocation reports whether err is a Location error, regardless of number.
func IsLocation(err error) bool {
	return locationKind.Is(err)
}
