package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/Incrisz/school-nextjs-sub002/apps/container"
	"github.com/Incrisz/school-nextjs-sub002/core"
	"github.com/Incrisz/school-nextjs-sub002/storage/database"
)

func main() {
	conf := core.NewConfig()
	logger := container.NewLogger(conf, "ADMIN : ")

	// start CLI
	cli := commandLine{
		conf: conf,
		out:  os.Stdout,
		openDB: func() (*sql.DB, error) {
			if err := database.CreateIfNotExist(conf); err != nil {
				return nil, err
			}
			db, err := database.Open(conf)
			if err != nil {
				return nil, err
			}
			return db.DB, nil
		},
		newContainer: func() (*container.Container, error) {
			return container.New(context.Background(), conf, logger)
		},
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %v", err), err)
		}
		os.Exit(1)
	}
}
