package notifier

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/lunikdev/JellyGrab/internal/downloader"
	"github.com/lunikdev/JellyGrab/internal/logctx"
)

// Listen forwards downloader outcomes to n until ctx is done: a success
// message for completed items that asked for one, and an error message for
// every failure. It closes sub before returning.
func Listen(ctx context.Context, sub *downloader.Subscription, n Notifier) error {
	logger := logctx.LoggerFromContext(ctx)

	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			if sub.Dropped() {
				logger.Error("notifier fell behind the download queue and was disconnected")
			}

			return nil
		case ev := <-sub.C():
			msg, ok := messageFor(ev)
			if !ok {
				continue
			}

			if err := n.Notify(ctx, msg); err != nil {
				logger.Error("failed to send notification", "event", ev.Kind(), "err", err)
			}
		}
	}
}

func messageFor(ev downloader.Event) (string, bool) {
	switch e := ev.(type) {
	case downloader.StatusChanged:
		if e.Item.State != downloader.Completed || !e.Item.ShowSuccessNotification {
			return "", false
		}

		return fmt.Sprintf("✅ Download completed: %s (%s)", e.Item.Filename, humanize.Bytes(uint64(e.Item.DownloadedBytes))), true
	case downloader.ItemFailed:
		return fmt.Sprintf("❌ Download failed: %s: %s", e.Filename, e.Message()), true
	default:
		return "", false
	}
}
