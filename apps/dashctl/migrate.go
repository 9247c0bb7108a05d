package main

import (
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-portal/storage/database"
)

var gooseRunFunc = database.RunMigration // mockable

var errNoDatabase = errors.New("migrations need the postgres store (set store.driver to postgres)")

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errNoDatabase
	}
	arguments := make([]string, 0)
	if len(args) > 1 {
		arguments = append(arguments, args[1:]...)
	}
	return gooseRunFunc(args[0], cli.db, arguments...)
}
