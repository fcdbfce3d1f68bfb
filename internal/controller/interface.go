package controller

import (
	"context"

	"github.com/dwarvesf/collateral-relayer/internal/model"
)

type IController interface {
	// Deposit verifies a bitcoin deposit and attests it to the depositor's collateral
	// object on the chain, creating the object on first deposit.
	Deposit(ctx context.Context, req DepositRequest) (*DepositResult, error)
}

type DepositRequest struct {
	ChainAddress   string
	BitcoinAddress string
	BitcoinTxHash  string
}

type DepositResult struct {
	ID                string             `json:"id"`
	Status            model.RecordStatus `json:"status"`
	Hash              string             `json:"hash"`
	CollateralCreated bool               `json:"collateralCreated"`
	AmountSats        int64              `json:"amountSats"`
}
