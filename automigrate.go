package main

import (
	"github.com/davecheney/mention/models"
)

type AutoMigrateCmd struct {
}

func (a *AutoMigrateCmd) Run(ctx *Context) error {
	db, err := ctx.open()
	if err != nil {
		return err
	}
	return db.AutoMigrate(models.AllTables()...)
}
