// catalog.go implements `mokorectl catalog list`: fetch every configured
// provider's remote listing, reconcile it against local volumes and print
// the derived per-series view.
/*
 * Copyright (c) 2024, Mokuro Reader Project.
 */
package main

import (
	"context"
	"fmt"

	"github.com/mokuroreader/corestore/catalog"
	"github.com/mokuroreader/corestore/corelog"
	"github.com/mokuroreader/corestore/library"
	"github.com/urfave/cli"
)

func catalogCommand() cli.Command {
	return cli.Command{
		Name:  "catalog",
		Usage: "inspect the local+cloud derived catalog",
		Subcommands: []cli.Command{
			{
				Name:  "list",
				Usage: "print every series and volume, real and placeholder",
				Action: func(c *cli.Context) error {
					cfg, db, err := openStore(c)
					if err != nil {
						return err
					}
					defer db.Close()

					locals, err := db.AllVolumes()
					if err != nil {
						return err
					}

					providers := buildProviders(context.Background(), cfg)

					// Read-only external libraries contribute volumes too.
					libs, err := db.AllLibraries()
					if err != nil {
						return err
					}
					for _, lc := range libs {
						src, derr := library.Dial(lc)
						if derr != nil {
							corelog.Warnf("mokorectl: library %q unavailable: %v", lc.Name, derr)
							continue
						}
						providers[src.Name()] = src
					}

					all := locals
					for name, p := range providers {
						remote, err := p.ListCloudVolumes(context.Background())
						if err != nil {
							corelog.Warnf("mokorectl: list %s: %v", name, err)
							continue
						}
						reconciled := catalog.Reconcile(name, all, remote)
						all = reconciled.Volumes
					}

					for _, series := range catalog.GroupBySeries(all) {
						fmt.Fprintf(c.App.Writer, "%s\n", series.SeriesTitle)
						for _, v := range series.Volumes {
							marker := " "
							if v.IsPlaceholder {
								marker = "*"
							}
							fmt.Fprintf(c.App.Writer, "  %s %s\n", marker, v.VolumeTitle)
						}
					}
					return nil
				},
			},
		},
	}
}
