package model

import "time"

// CursorState is the resume point of one event feed channel.
type CursorState struct {
	Channel     string    `gorm:"column:channel;type:varchar(100);primaryKey" json:"channel"`
	Cursor      string    `gorm:"column:cursor;type:text;not null" json:"cursor"`
	LastUpdated time.Time `gorm:"column:last_updated;not null" json:"lastUpdated"`
}

func (CursorState) TableName() string {
	return "cursor_states"
}
