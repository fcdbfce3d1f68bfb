package main

import (
	"flag"
	"os"
	"strconv"

	pgstore "github.com/dwarvesf/collateral-relayer/internal/store/postgres"
	"github.com/dwarvesf/collateral-relayer/internal/store/migration"
	"github.com/dwarvesf/collateral-relayer/internal/utils/config"
	"github.com/dwarvesf/collateral-relayer/internal/utils/logger"
)

func main() {
	down := flag.Int("down", 0, "roll back this many migrations instead of applying")
	flag.Parse()

	appConfig := config.New()
	logger := logger.New(appConfig.Environment)
	defer logger.Sync()

	db := pgstore.New(appConfig, logger)

	var err error
	if *down > 0 {
		err = migration.Down(db, *down)
	} else {
		err = migration.Up(db)
	}
	if err != nil {
		logger.Error("[main][migration] failed to run migrations", map[string]string{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	version, dirty, err := migration.Version(db)
	if err != nil {
		logger.Error("[main][migration.Version] failed to read schema version", map[string]string{
			"error": err.Error(),
		})
		os.Exit(1)
	}
	logger.Info("Migrations completed successfully", map[string]string{
		"version": strconv.FormatUint(uint64(version), 10),
		"dirty":   strconv.FormatBool(dirty),
	})
}
