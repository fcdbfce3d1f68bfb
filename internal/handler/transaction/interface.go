package transaction

import (
	"github.com/gin-gonic/gin"

	"github.com/dwarvesf/collateral-relayer/internal/model"
	"github.com/dwarvesf/collateral-relayer/internal/view"
)

type IHandler interface {
	GetTransaction(c *gin.Context)
	GetTransactions(c *gin.Context)
	GetWithdrawals(c *gin.Context)
}

type GetTransactionsRequest struct {
	Page  int `form:"page" json:"page"`
	Limit int `form:"limit" json:"limit"`
}

type GetTransactionsResponse struct {
	view.Pagination
	Transactions []model.TransactionRecord `json:"transactions"`
}
