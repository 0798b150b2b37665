// Package dberr defines the error taxonomy shared by every lofi layer.
//
// All failures surfaced by the schema registry, migration runner, record
// store, and engine are *Error values (possibly wrapped with %w). Callers
// classify them with errors.Is against the sentinel values, or with the
// Is* helpers:
//
//	if errors.Is(err, dberr.ErrNotFound) { ... }
//	if dberr.IsValidation(err) { ... }
package dberr

import (
	"errors"
	"fmt"
	"strings"
)

// Code categorizes an error.
type Code string

const (
	// CodeSchema indicates an invalid schema structure.
	CodeSchema Code = "SCHEMA"

	// CodeMigration indicates no applicable upgrade path, a downgrade, or a
	// failed migration step.
	CodeMigration Code = "MIGRATION"

	// CodeValidation indicates a write or query that does not fit the schema.
	CodeValidation Code = "VALIDATION"

	// CodeNotFound indicates an identifier with no live row.
	CodeNotFound Code = "NOT_FOUND"

	// CodeTransactionScope indicates a mutation outside a write transaction.
	CodeTransactionScope Code = "TRANSACTION_SCOPE"

	// CodeConstraint indicates a storage-level constraint violation.
	CodeConstraint Code = "CONSTRAINT"

	// CodeWriteBusy indicates a fail-fast writer found another write in progress.
	CodeWriteBusy Code = "WRITE_BUSY"

	// CodeClosed indicates use of a closed engine.
	CodeClosed Code = "CLOSED"
)

// Error is the structured error type used throughout lofi.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Table, RecordID and Field locate the failure when known.
	Table    string
	RecordID string
	Field    string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}

	var loc []string
	if e.Table != "" {
		loc = append(loc, "table="+e.Table)
	}
	if e.RecordID != "" {
		loc = append(loc, "id="+e.RecordID)
	}
	if e.Field != "" {
		loc = append(loc, "field="+e.Field)
	}
	if len(loc) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(loc, ", "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
// This lets the sentinels below match any error of their category.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is.
var (
	ErrSchema           = &Error{Code: CodeSchema}
	ErrMigration        = &Error{Code: CodeMigration}
	ErrValidation       = &Error{Code: CodeValidation}
	ErrNotFound         = &Error{Code: CodeNotFound}
	ErrTransactionScope = &Error{Code: CodeTransactionScope}
	ErrConstraint       = &Error{Code: CodeConstraint}
	ErrWriteBusy        = &Error{Code: CodeWriteBusy, Message: "another write transaction is in progress"}
	ErrClosed           = &Error{Code: CodeClosed, Message: "engine is closed"}
)

// Schemaf creates a SchemaError.
func Schemaf(format string, args ...any) *Error {
	return &Error{Code: CodeSchema, Message: fmt.Sprintf(format, args...)}
}

// Migrationf creates a MigrationError.
func Migrationf(format string, args ...any) *Error {
	return &Error{Code: CodeMigration, Message: fmt.Sprintf(format, args...)}
}

// Validationf creates a ValidationError for a table field.
func Validationf(table, field, format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Table: table, Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a NotFoundError for a record.
func NotFound(table, id string) *Error {
	return &Error{Code: CodeNotFound, Table: table, RecordID: id, Message: "record not found"}
}

// Scope creates a TransactionScopeError naming the rejected operation.
func Scope(op string) *Error {
	return &Error{Code: CodeTransactionScope, Message: op + " requires an active write transaction"}
}

// Constraint wraps a storage constraint violation.
func Constraint(table string, cause error) *Error {
	return &Error{Code: CodeConstraint, Table: table, Message: "constraint violated", Cause: cause}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the code of the outermost *Error in err's chain.
// Returns "" when err carries no *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsSchema returns true if err is a SchemaError.
func IsSchema(err error) bool { return errors.Is(err, ErrSchema) }

// IsMigration returns true if err is a MigrationError.
func IsMigration(err error) bool { return errors.Is(err, ErrMigration) }

// IsValidation returns true if err is a ValidationError.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound returns true if err is a NotFoundError.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsTransactionScope returns true if err is a TransactionScopeError.
func IsTransactionScope(err error) bool { return errors.Is(err, ErrTransactionScope) }

// IsConstraint returns true if err is a ConstraintError.
func IsConstraint(err error) bool { return errors.Is(err, ErrConstraint) }
