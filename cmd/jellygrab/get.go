package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lunikdev/JellyGrab/internal/config"
	"github.com/lunikdev/JellyGrab/internal/downloader"
	"github.com/lunikdev/JellyGrab/internal/downloader/progress"
	"github.com/schollz/progressbar/v3"
)

// runGet downloads the given items in the foreground and returns an error if
// any of them did not end up on disk.
func runGet(ctx context.Context, cfg *config.Config, ids []string) error {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return errors.New("usage: jellygrab get <item-id>...")
	}

	client, err := newJellyfinClient(cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to build jellyfin client: %w", err)
	}

	settings, err := config.OpenSettings(cfg.SettingsPath, cfg.DefaultSettings())
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	current := settings.Get()

	dl := downloader.New(client, downloader.Options{
		DownloadDir:    cfg.DownloadDir,
		MaxConcurrent:  current.MaxConcurrent,
		ChunkSizeBytes: current.ChunkSizeBytes(),
	})

	sub := dl.Subscribe()

	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		// workers publish their final status on the way out
		sub.Close()
		dl.Wait()
	}()

	dl.Start(runCtx)

	type enqueued struct {
		id   string
		snap downloader.Snapshot
		err  error
	}

	// results and events interleave, so enqueueing runs beside the loop
	results := make(chan enqueued)

	go func() {
		defer close(results)

		for _, id := range ids {
			snap, err := dl.Enqueue(runCtx, id, false)

			select {
			case results <- enqueued{id: id, snap: snap, err: err}:
			case <-runCtx.Done():
				return
			}
		}
	}()

	out := os.Stderr
	bars := make(map[string]*progressbar.ProgressBar)
	failed := 0

	for results != nil || len(bars) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-results:
			if !ok {
				results = nil

				continue
			}

			if res.err != nil {
				fmt.Fprintf(out, "%s: %v\n", res.id, res.err)
				failed++

				continue
			}

			// the item may have finished before its result got here
			if cur, ok := dl.Get(res.id); ok && cur.State.IsTerminal() {
				if !succeeded(cur.State) {
					failed++
				}

				printOutcome(out, cur)

				continue
			}

			bars[res.id] = newBar(out, res.snap)
		case <-sub.Done():
			return errors.New("lost the download event stream")
		case ev := <-sub.C():
			switch e := ev.(type) {
			case downloader.ProgressChanged:
				bar, ok := bars[e.ItemID]
				if !ok {
					continue
				}

				if e.Progress.Total > 0 && bar.GetMax64() != e.Progress.Total {
					bar.ChangeMax64(e.Progress.Total)
				}

				_ = bar.Set64(e.Progress.Downloaded)
			case downloader.StatusChanged:
				bar, ok := bars[e.Item.ID]
				if !ok || !e.Item.State.IsTerminal() {
					continue
				}

				delete(bars, e.Item.ID)

				if succeeded(e.Item.State) {
					_ = bar.Finish()
				} else {
					_ = bar.Exit()
					failed++
				}

				printOutcome(out, e.Item)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d items failed", failed, len(ids))
	}

	return nil
}

func newBar(w io.Writer, snap downloader.Snapshot) *progressbar.ProgressBar {
	total := snap.TotalBytes
	if total <= 0 {
		total = -1
	}

	return progressbar.NewOptions64(
		total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(snap.Filename),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func succeeded(st downloader.State) bool {
	return st == downloader.Completed || st == downloader.AlreadyExists
}

func printOutcome(w io.Writer, snap downloader.Snapshot) {
	if succeeded(snap.State) {
		fmt.Fprintf(w, "%s: %s (%s)\n", snap.Filename, snap.State, progress.FormatBytes(snap.DownloadedBytes))

		return
	}

	fmt.Fprintf(w, "%s: %s %s\n", snap.Filename, snap.State, snap.Error)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))

	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}

		seen[id] = struct{}{}
		out = append(out, id)
	}

	return out
}
