package db

import (
	"errors"
	"fmt"
	"testing"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDeadlock(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"mysql deadlock", &gomysql.MySQLError{Number: 1213, Message: "Deadlock found"}, true},
		{"mysql lock wait", fmt.Errorf("upsert: %w", &gomysql.MySQLError{Number: 1205}), true},
		{"mysql duplicate", &gomysql.MySQLError{Number: 1062}, false},
		{"postgres deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"postgres serialization", fmt.Errorf("tx: %w", &pgconn.PgError{Code: "40001"}), true},
		{"postgres fk", &pgconn.PgError{Code: "23503"}, false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsDeadlock(tc.err))
		})
	}
}

func TestUnavailable(t *testing.T) {
	assert.ErrorIs(t, Unavailable(errors.New("dial tcp: connection refused")), ErrStoreUnavailable)
	assert.ErrorIs(t, Unavailable(errors.New("database is locked")), ErrStoreUnavailable)

	plain := errors.New("syntax error")
	assert.Equal(t, plain, Unavailable(plain))
	assert.NoError(t, Unavailable(nil))
}

func TestConstraintViolations(t *testing.T) {
	assert.True(t, IsUniqueViolation(gorm.ErrDuplicatedKey))
	assert.True(t, IsUniqueViolation(errors.New("UNIQUE constraint failed: characters.name")))
	assert.False(t, IsUniqueViolation(nil))

	assert.True(t, IsForeignKeyViolation(gorm.ErrForeignKeyViolated))
	assert.True(t, IsForeignKeyViolation(errors.New("FOREIGN KEY constraint failed")))
	assert.False(t, IsForeignKeyViolation(errors.New("boom")))
}
