package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// IsUniqueViolation reports whether err is a unique-constraint violation on
// any of the supported drivers. Callers use it where losing an insert race
// is an expected outcome rather than a failure.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "duplicate key value violates unique constraint"):
		return true // postgres 23505
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return true // sqlite 2067
	case strings.Contains(msg, "Error 1062"):
		return true // mysql
	}
	return false
}
