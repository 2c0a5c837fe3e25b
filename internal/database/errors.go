package database

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrBuildQuery      = errors.New("failed to build query")
	ErrDuplicateRecord = errors.New("record already exists")
	ErrPeriodOverlap   = errors.New("price periods overlap")
	ErrInvalidPeriod   = errors.New("price period start must be before end")
	ErrInvalidTime     = errors.New("time must be HH:MM")
)

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
