package storeerr

import (
	"errors"

	"gorm.io/gorm"
)

// ErrStaleTransition is returned when a guarded update matched no row because the
// record already left the expected state.
var ErrStaleTransition = errors.New("record is not in the expected state")

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsUniqueViolation needs the connection opened with TranslateError.
func IsUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
