package store

import (
	"gorm.io/gorm"

	"github.com/dwarvesf/collateral-relayer/internal/store/cursorstate"
	"github.com/dwarvesf/collateral-relayer/internal/store/transactionrecord"
)

type Store struct {
	TransactionRecord transactionrecord.IStore
	CursorState       cursorstate.IStore
}

func New(db *gorm.DB) *Store {
	return &Store{
		TransactionRecord: transactionrecord.New(),
		CursorState:       cursorstate.New(),
	}
}
