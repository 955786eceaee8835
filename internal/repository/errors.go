package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("duplicate key")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

const (
	mysqlDuplicateEntry    = 1062
	mysqlTableAccessDenied = 1142
	mysqlDBAccessDenied    = 1044
)

// translate maps driver errors onto the repository taxonomy.
func translate(err error) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlDuplicateEntry:
			return errors.Join(ErrDuplicate, err)
		case mysqlTableAccessDenied, mysqlDBAccessDenied:
			return errors.Join(ErrForbidden, err)
		}
	}
	return err
}
