// Command mokorectl is the CLI re-implementation: ingest,
// catalog list, download-enqueue and backup-enqueue as subcommands,
// returning 0/1/2 for success/failure/user-cancel.
/*
 * Copyright (c) 2024, Mokuro Reader Project.
 */
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/mokuroreader/corestore/config"
	"github.com/mokuroreader/corestore/corelog"
	"github.com/mokuroreader/corestore/store"
	"github.com/urfave/cli"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitCancel = 2
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	app := cli.NewApp()
	app.Name = "mokorectl"
	app.Usage = "manage a mokuro reader library from the command line"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Value: "mokoro.yaml", Usage: "path to config file"},
	}
	app.Commands = []cli.Command{
		ingestCommand(),
		catalogCommand(),
		downloadEnqueueCommand(),
		backupEnqueueCommand(),
	}

	if err := app.Run(args); err != nil {
		if err == errUserCancelled {
			return exitCancel
		}
		fmt.Fprintln(os.Stderr, "mokorectl:", err)
		return exitFailed
	}
	return exitOK
}

var errUserCancelled = fmt.Errorf("cancelled")

// openStore opens the config-designated database, applying CLI-wide flags.
func openStore(c *cli.Context) (*config.Config, *store.DB, error) {
	cfg, err := config.Load(c.GlobalString("config"), runtime.NumCPU())
	if err != nil {
		return nil, nil, err
	}
	db, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		return nil, nil, err
	}
	corelog.SetLevel(corelog.SmoduleProvider, 1)
	return cfg, db, nil
}
