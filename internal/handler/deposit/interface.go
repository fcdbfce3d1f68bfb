package deposit

import "github.com/gin-gonic/gin"

type IHandler interface {
	Deposit(c *gin.Context)
}

type DepositRequest struct {
	ChainAddress   string `json:"chainAddress" binding:"required" validate:"required,startswith=0x,max=66"`
	BitcoinAddress string `json:"bitcoinAddress" validate:"omitempty,max=100"`
	BitcoinTxHash  string `json:"bitcoinTxHash" binding:"required" validate:"required,len=64,hexadecimal"`
}
