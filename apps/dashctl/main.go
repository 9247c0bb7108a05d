package main

import (
	"context"
	"os"

	"github.com/trezcool/masomo-portal/apps/portal"
	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/storage/database"
	"github.com/trezcool/masomo-portal/storage/database/postgres"
)

func main() {
	conf := core.NewConfig()
	logger := portal.NewLogger(conf, "DASHCTL")
	defer logger.Close()

	cli := commandLine{conf: conf, out: os.Stdout}

	// the postgres store is not migrated on open: that is what `dashctl migrate` is for
	if conf.Store.Driver == "postgres" {
		db, err := database.Open(conf)
		if err != nil {
			logger.Fatal("setting up database", err)
		}
		defer db.Close()
		cli.db = db.DB
		cli.store = pgstore.NewDocumentStore(db)
	} else {
		store, closeStore, err := database.OpenStore(context.Background(), conf)
		if err != nil {
			logger.Fatal("setting up store", err)
		}
		defer closeStore()
		cli.store = store
	}

	fetcher := portal.NewOrchestrator(conf, cli.store, logger)
	cli.fetcher = fetcher
	cli.dashboards = portal.NewDashboardService(fetcher, logger)

	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error("dashctl failed", err)
		}
		logger.Close()
		os.Exit(1)
	}
}
