// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package caliberr defines CALIBER's error taxonomy.
//
// Every error surfaced across entity CRUD, the DSL/pack pipeline, the
// coordination primitives, and the tool execution gate is categorized into
// one of a fixed set of Categories so that REST handlers, gRPC status
// mapping, and audit logging can treat errors uniformly without inspecting
// message strings.
package caliberr

import (
	"errors"
	"fmt"
)

// Category is the top-level error classification.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryNotFound   Category = "not_found"
	CategoryConflict   Category = "conflict"
	CategoryForbidden  Category = "forbidden"
	CategoryStorage    Category = "storage"
	CategoryProvider   Category = "provider"
	CategoryTransport  Category = "transport"
	CategoryInternal   Category = "internal"
)

// HTTPStatus returns the status code a REST handler should use for c.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryValidation:
		return 400
	case CategoryNotFound:
		return 404
	case CategoryForbidden:
		return 403
	case CategoryConflict:
		return 409
	case CategoryStorage, CategoryInternal, CategoryProvider, CategoryTransport:
		return 500
	default:
		return 500
	}
}

// Location pins a validation error to a source position, used by the DSL
// parser and the pack markdown grammar.
type Location struct {
	File   string
	Line   int
	Column int
}

func (l Location) String() string {
	if l.File == "" && l.Line == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// Error is CALIBER's structured error type. It implements the standard
// error interface and supports errors.Is/errors.As via Unwrap.
type Error struct {
	Category Category
	Code     string
	Message  string
	Field    string
	Location Location
	Details  map[string]any
	cause    error
}

func (e *Error) Error() string {
	loc := e.Location.String()
	switch {
	case loc != "" && e.Field != "":
		return fmt.Sprintf("%s: %s (%s) [%s]", e.Code, e.Message, e.Field, loc)
	case loc != "":
		return fmt.Sprintf("%s: %s [%s]", e.Code, e.Message, loc)
	case e.Field != "":
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.cause }

// WithCause attaches an underlying cause and returns the receiver.
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	return e
}

// WithDetail sets a single detail key and returns the receiver.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func newErr(cat Category, code, msg string) *Error {
	return &Error{Category: cat, Code: code, Message: msg}
}

// Validation builds a validation-category error.
func Validation(code, msg string) *Error { return newErr(CategoryValidation, code, msg) }

// MissingRequiredField builds the exact diagnostic the DSL parser and the
// pack manifest validator report: "missing required field: <name>".
func MissingRequiredField(name string, loc Location) *Error {
	e := Validation("missing_required_field", fmt.Sprintf("missing required field: %s", name))
	e.Field = name
	e.Location = loc
	return e
}

// NotFound builds a not-found error for the given entity kind and id.
func NotFound(entityType, id string) *Error {
	e := newErr(CategoryNotFound, "not_found", fmt.Sprintf("%s %s not found", entityType, id))
	e.WithDetail("entity_type", entityType)
	e.WithDetail("entity_id", id)
	return e
}

// Conflict builds a conflict-category error (lock unavailable, bad state
// transition, uniqueness violation).
func Conflict(code, msg string) *Error { return newErr(CategoryConflict, code, msg) }

// Forbidden builds a forbidden-category error (authorization, token budget).
func Forbidden(code, msg string) *Error { return newErr(CategoryForbidden, code, msg) }

// Storage builds a storage-category error.
func Storage(code, msg string) *Error { return newErr(CategoryStorage, code, msg) }

// Provider builds an LLM/provider-category error.
func Provider(code, msg string) *Error { return newErr(CategoryProvider, code, msg) }

// Transport builds a transport-category error (WS/HTTP/gRPC).
func Transport(code, msg string) *Error { return newErr(CategoryTransport, code, msg) }

// Internal builds an internal-category error: an invariant broken, a bug.
func Internal(code, msg string) *Error { return newErr(CategoryInternal, code, msg) }

// As reports whether err (or something it wraps) is a *Error, returning it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CategoryOf returns the Category of err if it is (or wraps) a *Error, else
// CategoryInternal; an uncategorized error is treated as a bug.
func CategoryOf(err error) Category {
	if e, ok := As(err); ok {
		return e.Category
	}
	return CategoryInternal
}
