package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/dukerupert/aisle/internal/model"
)

// Unavailable marks err with model.ErrBackendUnavailable when it means the
// database itself cannot be reached: a closed *sql.DB, a closed connection or
// a connection the driver rejected. Other errors are returned unchanged.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, model.ErrBackendUnavailable) {
		return err
	}
	// database/sql does not export the error it returns after DB.Close.
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) ||
		strings.Contains(err.Error(), "sql: database is closed") {
		return fmt.Errorf("%w: %w", model.ErrBackendUnavailable, err)
	}
	return err
}

// Ping checks that db answers, reporting failure as model.ErrBackendUnavailable.
func Ping(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", model.ErrBackendUnavailable, err)
	}
	return nil
}
