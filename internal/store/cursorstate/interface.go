package cursorstate

import (
	"gorm.io/gorm"

	"github.com/dwarvesf/collateral-relayer/internal/model"
)

type IStore interface {
	// Get returns nil without error when the channel has no cursor yet.
	Get(tx *gorm.DB, channel string) (*model.CursorState, error)
	Upsert(tx *gorm.DB, channel, cursor string) (*model.CursorState, error)
	Delete(tx *gorm.DB, channel string) error
}
