// queuecmd.go implements `mokorectl download` and `mokorectl backup`:
// enqueue placeholder downloads / volume backups against the shared worker
// pool and block until the queue drains, rendering per-item progress bars.
/*
 * Copyright (c) 2024, Mokuro Reader Project.
 */
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mokuroreader/corestore/catalog"
	"github.com/mokuroreader/corestore/config"
	"github.com/mokuroreader/corestore/model"
	"github.com/mokuroreader/corestore/pool"
	"github.com/mokuroreader/corestore/provider"
	"github.com/mokuroreader/corestore/queue"
	"github.com/mokuroreader/corestore/shim"
	"github.com/mokuroreader/corestore/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v4"
	"github.com/vbauerster/mpb/v4/decor"
)

const progressPollInterval = 150 * time.Millisecond

func downloadEnqueueCommand() cli.Command {
	return cli.Command{
		Name:      "download",
		Usage:     "download placeholder volumes from their cloud provider",
		ArgsUsage: "<Series/Volume> [<Series/Volume> ...]",
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "progress", Usage: "render progress bars"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("download: at least one Series/Volume argument is required")
			}
			cfg, db, err := openStore(c)
			if err != nil {
				return err
			}
			defer db.Close()

			rt, err := newRuntime(c, cfg, db)
			if err != nil {
				return err
			}

			// Reconcile once so placeholders exist to enqueue against.
			locals, err := db.AllVolumes()
			if err != nil {
				return err
			}
			all := locals
			for name, p := range rt.providers {
				remote, lerr := p.ListCloudVolumes(context.Background())
				if lerr != nil {
					fmt.Fprintf(c.App.ErrWriter, "download: list %s: %v\n", name, lerr)
					continue
				}
				rt.caches.Get(name).Replace(remote)
				all = catalog.Reconcile(name, all, remote).Volumes
			}

			dl := queue.NewDownloader(rt.pool, db, rt.providers, rt.caches, rt.tracker, rt.snackbar)
			var ids []string
			for _, arg := range c.Args() {
				v := findVolumeByArg(all, arg)
				if v == nil {
					return fmt.Errorf("download: no catalog entry matches %q", arg)
				}
				if !v.IsPlaceholder {
					fmt.Fprintf(c.App.Writer, "download: %s is already local, skipping\n", arg)
					continue
				}
				item := &queue.DownloadItem{
					VolumeUUID:     v.VolumeUUID,
					CloudFileID:    v.CloudFileID,
					CloudProvider:  v.CloudProvider,
					SeriesTitle:    v.SeriesTitle,
					VolumeTitle:    v.VolumeTitle,
					VolumeMetadata: v,
					LibraryID:      v.LibraryID,
				}
				if err := dl.Enqueue(item); err != nil {
					return err
				}
				ids = append(ids, item.ID)
			}
			if len(ids) == 0 {
				return nil
			}
			return awaitTracked(c, rt.tracker, ids)
		},
	}
}

func backupEnqueueCommand() cli.Command {
	return cli.Command{
		Name:      "backup",
		Usage:     "back up local volumes to a provider, or export them to a file",
		ArgsUsage: "<Series/Volume> [<Series/Volume> ...]",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "provider", Value: queue.ExportProvider, Usage: "target provider name, or \"export\" for a local file"},
			cli.StringFlag{Name: "out", Value: ".", Usage: "output directory for exports"},
			cli.BoolFlag{Name: "sidecars", Usage: "include OCR and thumbnail sidecars"},
			cli.BoolFlag{Name: "embed", Usage: "embed sidecars inside the archive instead of alongside it"},
			cli.BoolFlag{Name: "progress", Usage: "render progress bars"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return fmt.Errorf("backup: at least one Series/Volume argument is required")
			}
			cfg, db, err := openStore(c)
			if err != nil {
				return err
			}
			defer db.Close()

			rt, err := newRuntime(c, cfg, db)
			if err != nil {
				return err
			}

			providerName := c.String("provider")
			if providerName != queue.ExportProvider {
				if _, ok := rt.providers[providerName]; !ok {
					return fmt.Errorf("backup: provider %q is not configured", providerName)
				}
			}

			locals, err := db.AllVolumes()
			if err != nil {
				return err
			}

			bk := queue.NewBackupper(rt.pool, db, rt.providers, rt.caches, rt.tracker, rt.snackbar)
			var ids []string
			for _, arg := range c.Args() {
				v := findVolumeByArg(locals, arg)
				if v == nil {
					return fmt.Errorf("backup: no local volume matches %q", arg)
				}
				item := &queue.BackupItem{
					Kind:        queue.KindBackup,
					Provider:    providerName,
					VolumeUUID:  v.VolumeUUID,
					SeriesTitle: v.SeriesTitle,
					VolumeTitle: v.VolumeTitle,
					Sidecars: queue.SidecarOptions{
						IncludeSidecars:        c.Bool("sidecars"),
						EmbedSidecarsInArchive: c.Bool("embed"),
					},
				}
				if providerName == queue.ExportProvider {
					item.Kind = queue.KindExport
					outDir := c.String("out")
					title := v.VolumeTitle
					item.OnExportReady = func(blob []byte, sidecars map[string][]byte) {
						writeExport(c, outDir, title, blob, sidecars)
					}
				}
				if err := bk.Enqueue(item); err != nil {
					return err
				}
				ids = append(ids, item.ID)
			}
			return awaitTracked(c, rt.tracker, ids)
		},
	}
}

func writeExport(c *cli.Context, outDir, volumeTitle string, blob []byte, sidecars map[string][]byte) {
	archivePath := outDir + string(os.PathSeparator) + volumeTitle + ".cbz"
	if err := os.WriteFile(archivePath, blob, 0o644); err != nil {
		fmt.Fprintf(c.App.ErrWriter, "export: write %s: %v\n", archivePath, err)
		return
	}
	for name, data := range sidecars {
		p := outDir + string(os.PathSeparator) + name
		if err := os.WriteFile(p, data, 0o644); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "export: write %s: %v\n", p, err)
		}
	}
	fmt.Fprintf(c.App.Writer, "exported %s\n", archivePath)
}

// cliRuntime bundles the long-lived singletons a queue command needs.
type cliRuntime struct {
	pool      *pool.Pool
	providers map[string]provider.Provider
	caches    *catalog.Registry
	tracker   *shim.Tracker
	snackbar  *shim.Snackbar
}

func newRuntime(c *cli.Context, cfg *config.Config, db *store.DB) (*cliRuntime, error) {
	rt := &cliRuntime{
		pool: pool.AcquireShared(pool.Config{
			MaxConcurrentWorkers: cfg.Pool.MaxConcurrentWorkers,
			MemoryBudget:         cfg.Pool.MemoryBudgetBytes,
		}),
		providers: buildProviders(context.Background(), cfg),
		caches:    catalog.NewRegistry(),
		tracker:   shim.NewTracker(prometheus.NewRegistry()),
		snackbar:  shim.NewSnackbar(),
	}
	rt.snackbar.Subscribe(func(n shim.Notification) {
		if n.Severity == shim.SeverityError {
			fmt.Fprintln(c.App.ErrWriter, n.Message)
		}
	})
	return rt, nil
}

// awaitTracked blocks until every id reaches a terminal tracker state,
// rendering mpb bars when --progress is set. Ctrl-C returns the
// user-cancel sentinel so main() exits 2.
func awaitTracked(c *cli.Context, tracker *shim.Tracker, ids []string) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var (
		progress *mpb.Progress
		bars     map[string]*mpb.Bar
		lastPct  map[string]int64
	)
	if c.Bool("progress") {
		progress = mpb.New(mpb.WithWidth(64), mpb.WithOutput(c.App.Writer))
		bars = make(map[string]*mpb.Bar, len(ids))
		lastPct = make(map[string]int64, len(ids))
		snap := tracker.Snapshot()
		for _, id := range ids {
			desc := snap[id].Description
			bars[id] = progress.AddBar(100,
				mpb.PrependDecorators(decor.Name(desc+" ", decor.WC{W: len(desc) + 1, C: decor.DSyncWidthR})),
				mpb.AppendDecorators(decor.Percentage()),
			)
		}
	}

	tick := time.NewTicker(progressPollInterval)
	defer tick.Stop()
	var failed []string
	for {
		select {
		case <-sigCh:
			return errUserCancelled
		case <-tick.C:
		}
		snap := tracker.Snapshot()
		allDone := true
		for _, id := range ids {
			e := snap[id]
			if bars != nil {
				pct := int64(e.Progress * 100)
				if terminalStatus(e.Status) {
					pct = 100
				}
				if d := pct - lastPct[id]; d > 0 {
					bars[id].IncrInt64(d)
					lastPct[id] = pct
				}
			}
			if !terminalStatus(e.Status) {
				allDone = false
			}
		}
		if allDone {
			break
		}
	}
	if progress != nil {
		progress.Wait()
	}
	snap := tracker.Snapshot()
	for _, id := range ids {
		if snap[id].Status == shim.StatusErrored {
			failed = append(failed, snap[id].Description)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d item(s) failed: %s", len(failed), strings.Join(failed, "; "))
	}
	return nil
}

func terminalStatus(s shim.ProgressStatus) bool {
	return s == shim.StatusDone || s == shim.StatusErrored || s == shim.StatusCancelled
}

// findVolumeByArg resolves a "Series/Volume" argument against the catalog,
// case-insensitively.
func findVolumeByArg(volumes []*model.Volume, arg string) *model.Volume {
	want := strings.ToLower(strings.TrimSuffix(arg, ".cbz"))
	for _, v := range volumes {
		if strings.ToLower(v.SeriesTitle+"/"+v.VolumeTitle) == want {
			return v
		}
	}
	return nil
}
