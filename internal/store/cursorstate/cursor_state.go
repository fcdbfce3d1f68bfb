package cursorstate

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dwarvesf/collateral-relayer/internal/model"
)

type Store struct {
}

func New() IStore {
	return &Store{}
}

func (s *Store) Get(tx *gorm.DB, channel string) (*model.CursorState, error) {
	var state model.CursorState
	err := tx.Where("channel = ?", channel).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *Store) Upsert(tx *gorm.DB, channel, cursor string) (*model.CursorState, error) {
	state := &model.CursorState{
		Channel:     channel,
		Cursor:      cursor,
		LastUpdated: time.Now(),
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel"}},
		DoUpdates: clause.AssignmentColumns([]string{"cursor", "last_updated"}),
	}).Create(state).Error
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *Store) Delete(tx *gorm.DB, channel string) error {
	return tx.Where("channel = ?", channel).Delete(&model.CursorState{}).Error
}
