package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/mokuroreader/corestore/ingest"
	"github.com/urfave/cli"
)

func ingestCommand() cli.Command {
	return cli.Command{
		Name:      "ingest",
		Usage:     "ingest one archive or walk a directory for archives",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "recursive, r", Usage: "walk directories for .cbz/.zip archives"},
		},
		Action: func(c *cli.Context) error {
			path := c.Args().Get(0)
			if path == "" {
				return fmt.Errorf("ingest: a path is required")
			}
			_, db, err := openStore(c)
			if err != nil {
				return err
			}
			defer db.Close()

			var sources []ingest.VolumeSource
			if c.Bool("recursive") {
				sources, err = collectArchives(path)
				if err != nil {
					return err
				}
			} else {
				blob, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				sources = []ingest.VolumeSource{{Data: blob, BasePath: basePathFromFile(path)}}
			}

			errs := ingest.IngestBatch(db, sources)
			for _, err := range errs {
				fmt.Fprintf(c.App.ErrWriter, "ingest: %v\n", err)
			}
			if len(errs) == len(sources) && len(sources) > 0 {
				return fmt.Errorf("ingest: all %d archive(s) failed", len(sources))
			}
			fmt.Fprintf(c.App.Writer, "ingested %d of %d archive(s)\n", len(sources)-len(errs), len(sources))
			return nil
		},
	}
}

// collectArchives walks root for .cbz/.zip files using godirwalk.
func collectArchives(root string) ([]ingest.VolumeSource, error) {
	var sources []ingest.VolumeSource
	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".cbz" && ext != ".zip" {
				return nil
			}
			blob, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				rel = path
			}
			sources = append(sources, ingest.VolumeSource{Data: blob, BasePath: basePathFromFile(rel)})
			return nil
		},
	})
	return sources, err
}

func basePathFromFile(path string) string {
	clean := strings.ReplaceAll(path, string(filepath.Separator), "/")
	return strings.TrimSuffix(clean, filepath.Ext(clean))
}
