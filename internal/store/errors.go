package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("not found")

const (
	pgForeignKeyViolation = "23503"
	pgInvalidTextRepr     = "22P02"
)

// wrapErr maps missing rows, dangling references and malformed ids to
// ErrNotFound and wraps everything else with op.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation, pgInvalidTextRepr:
			return fmt.Errorf("%s: %w (%s)", op, ErrNotFound, pgErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
