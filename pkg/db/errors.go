package db

import (
	"errors"

	"gorm.io/gorm"
)

// IsUniqueViolation reports whether err comes from a unique constraint.
// Connections must be opened with TranslateError (see Options).
func IsUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// IsNotFound reports whether err is gorm's record-not-found.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
