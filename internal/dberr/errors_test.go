package dberr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	err := &Error{Code: CodeNotFound, Message: "record not found", Table: "users", RecordID: "abc"}
	assert.Equal(t, "NOT_FOUND: record not found (table=users, id=abc)", err.Error())

	wrapped := Wrap(CodeMigration, errors.New("disk full"), "apply version %d", 2)
	assert.Equal(t, "MIGRATION: apply version 2: disk full", wrapped.Error())
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("find: %w", NotFound("users", "abc"))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))
	assert.False(t, errors.Is(err, ErrConstraint))
}

func TestError_UnwrapCause(t *testing.T) {
	cause := errors.New("UNIQUE constraint failed")
	err := Constraint("users", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsConstraint(err))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeSchema, CodeOf(fmt.Errorf("x: %w", Schemaf("bad"))))
	assert.Equal(t, CodeTransactionScope, CodeOf(Scope("create")))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestHelpers(t *testing.T) {
	assert.True(t, IsSchema(Schemaf("dup %s", "users")))
	assert.True(t, IsMigration(Migrationf("downgrade")))
	assert.True(t, IsValidation(Validationf("users", "name", "required")))
	assert.True(t, IsTransactionScope(Scope("update")))
	assert.True(t, errors.Is(ErrWriteBusy, &Error{Code: CodeWriteBusy}))
}
