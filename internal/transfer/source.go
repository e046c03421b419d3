package transfer

import (
	"context"
	"io"
)

// Source resolves catalog items into something the downloader can stream to disk.
type Source interface {
	// Resolve looks up itemID and returns where its bytes come from and where
	// they should land. It must not touch the destination filesystem.
	Resolve(ctx context.Context, itemID string) (*Resolution, error)
	// OpenStream opens the byte stream behind a locator returned by Resolve.
	OpenStream(ctx context.Context, locator string) (*Stream, error)
}

// Resolution is the result of resolving one catalog item.
type Resolution struct {
	ItemID        string
	SourceLocator string
	Filename      string
	// Directory is relative to the download root.
	Directory  string
	TotalBytes int64 // 0 when unknown
}

// Stream is an open transfer. The caller owns Body and must close it.
type Stream struct {
	Body       io.ReadCloser
	TotalBytes int64 // 0 when the response did not carry a size
}
