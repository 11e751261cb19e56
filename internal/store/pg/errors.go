package pg

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"qazna.org/authcore/internal/auth"
)

// storageError tags err with an oops code and makes it match auth.ErrStorage.
func storageError(code string, err error, kvs ...any) error {
	b := oops.Code(code)
	if len(kvs) > 0 {
		b = b.With(kvs...)
	}
	return b.Wrap(fmt.Errorf("%w: %w", auth.ErrStorage, err))
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func isUniqueViolation(err error) bool {
	pgErr, ok := maybePgError(err)
	return ok && pgErr.Code == pgerrcode.UniqueViolation
}
