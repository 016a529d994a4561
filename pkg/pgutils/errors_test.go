package pgutils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func pgError(code string) error {
	return &pgconn.PgError{Code: code, Message: "constraint violated"}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"typed pg error", pgError(CodeUniqueViolation), true},
		{"wrapped typed pg error", fmt.Errorf("insert earnings: %w", pgError(CodeUniqueViolation)), true},
		{"string fallback", errors.New("ERROR: duplicate key value (SQLSTATE 23505)"), true},
		{"different code", pgError(CodeForeignKeyViolation), false},
		{"unrelated error", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err))
		})
	}
}

func TestConstraintChecks(t *testing.T) {
	assert.True(t, IsForeignKeyViolation(pgError(CodeForeignKeyViolation)))
	assert.True(t, IsNotNullViolation(pgError(CodeNotNullViolation)))
	assert.True(t, IsCheckViolation(pgError(CodeCheckViolation)))

	assert.False(t, IsForeignKeyViolation(pgError(CodeUniqueViolation)))
	assert.False(t, IsNotNullViolation(nil))
}

func TestIsRetryableTxError(t *testing.T) {
	assert.True(t, IsRetryableTxError(pgError(CodeSerializationFailure)))
	assert.True(t, IsRetryableTxError(pgError(CodeDeadlockDetected)))
	assert.True(t, IsRetryableTxError(errors.New("could not serialize access (SQLSTATE 40001)")))
	assert.False(t, IsRetryableTxError(pgError(CodeUniqueViolation)))
	assert.False(t, IsRetryableTxError(nil))
}
