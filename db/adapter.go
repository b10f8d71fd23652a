package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nisekogame/backend/config"
	dbmysql "github.com/nisekogame/backend/db/mysql"
	dbpostgres "github.com/nisekogame/backend/db/postgres"
	dbsqlite "github.com/nisekogame/backend/db/sqlite"
	"gorm.io/gorm"
)

const (
	ModeSQLite   = "sqlite"
	ModePostgres = "postgres"
	ModeMySQL    = "mysql"
)

// ErrStoreUnavailable marks connection or transaction failures of the backing store.
var ErrStoreUnavailable = errors.New("store unavailable")

// Open returns a *gorm.DB for the configured database mode.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Mode {
	case ModeSQLite:
		return dbsqlite.Open(cfg.SQLitePath)
	case ModePostgres:
		return dbpostgres.Open(cfg.PostgresDSN, cfg.MaxOpen, cfg.MaxIdle, cfg.MaxLife)
	case ModeMySQL:
		return dbmysql.Open(cfg.MySQLDSN, cfg.MaxOpen, cfg.MaxIdle, cfg.MaxLife)
	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
}

// Close releases the connection pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping reports ErrStoreUnavailable if the store cannot be reached.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Unavailable wraps err with ErrStoreUnavailable when it looks like a
// connectivity failure rather than a statement failure. Other errors are
// returned unchanged.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is closed") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "bad connection") {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}

// IsUniqueViolation reports whether err came from a unique constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}

// IsForeignKeyViolation reports whether err came from a foreign key constraint.
func IsForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "foreign key")
}

// IsDeadlock reports whether err is a lock conflict the store broke by
// aborting the statement. Such a statement can be run again unchanged.
func IsDeadlock(err error) bool {
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213 || myErr.Number == 1205
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40P01" || pgErr.Code == "40001"
	}
	return false
}
