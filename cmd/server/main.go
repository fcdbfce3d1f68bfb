package main

import (
	"github.com/dwarvesf/collateral-relayer/internal/server"
)

// @title Collateral Relayer API
// @version 1.0
// @description Relays bitcoin deposits to on-chain collateral and pays out attested withdrawals.
// @BasePath /api/v1
func main() {
	server.Init()
}
