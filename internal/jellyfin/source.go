package jellyfin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/lunikdev/JellyGrab/internal/transfer"
)

const defaultExt = "mp4"

var _ transfer.Source = (*Client)(nil)

// Resolve fetches item metadata and derives its destination:
// "<Series>/<Series> - SxxEyy - <Episode>.<ext>" for episodes and
// "<Name>/<Name>.<ext>" for everything else.
func (c *Client) Resolve(ctx context.Context, itemID string) (*transfer.Resolution, error) {
	item, err := c.GetItem(ctx, itemID)
	if err != nil {
		return nil, &transfer.ResolutionError{ItemID: itemID, Reason: "failed to fetch item metadata", Err: err}
	}

	if item.Type == "Series" || item.Type == "Season" || item.Type == "CollectionFolder" {
		return nil, &transfer.ResolutionError{ItemID: itemID, Reason: fmt.Sprintf("%s items have no stream of their own", item.Type)}
	}

	ext := defaultExt

	var (
		size          int64
		mediaSourceID string
	)

	if len(item.MediaSources) > 0 {
		ms := item.MediaSources[0]
		size = max(ms.Size, 0)
		mediaSourceID = ms.ID

		if e := containerExt(ms.Container); e != "" {
			ext = e
		}
	}

	dir, filename := destinationFor(item, ext)

	locator := c.baseURL.JoinPath("Videos", item.ID, "stream."+ext)
	q := url.Values{"static": {"true"}}

	if mediaSourceID != "" {
		q.Set("MediaSourceId", mediaSourceID)
	}

	locator.RawQuery = q.Encode()

	return &transfer.Resolution{
		ItemID:        itemID,
		SourceLocator: locator.String(),
		Filename:      filename,
		Directory:     dir,
		TotalBytes:    size,
	}, nil
}

// OpenStream starts the download of a locator produced by Resolve.
func (c *Client) OpenStream(ctx context.Context, locator string) (*transfer.Stream, error) {
	u, err := url.Parse(locator)
	if err != nil || u.Host != c.baseURL.Host {
		return nil, &transfer.TransportError{Operation: "open_stream", Message: fmt.Sprintf("invalid stream locator %q", locator), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream request: %w", err)
	}

	req.Header.Set("Accept-Encoding", "identity")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var ae *transfer.AuthenticationError
		if errors.As(err, &ae) {
			return nil, ae
		}

		return nil, &transfer.TransportError{Operation: "open_stream", Message: err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()

		return nil, statusError("open_stream", resp)
	}

	return &transfer.Stream{Body: resp.Body, TotalBytes: max(resp.ContentLength, 0)}, nil
}

func destinationFor(item *BaseItem, ext string) (dir, filename string) {
	if item.Type == "Episode" {
		series := sanitize(item.SeriesName, "Series")
		episode := sanitize(item.Name, "Episode")

		return series, fmt.Sprintf("%s - S%02dE%02d - %s.%s",
			series, item.ParentIndexNumber, item.IndexNumber, episode, ext)
	}

	name := sanitize(item.Name, sanitize(item.ID, "Item"))

	return name, name + "." + ext
}

// sanitize keeps letters, digits, spaces, '-' and '_', and falls back when
// nothing is left.
func sanitize(s, fallback string) string {
	var b strings.Builder

	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return fallback
	}

	return out
}

// containerExt picks the first entry of a container list such as "mov,mp4,m4a".
func containerExt(container string) string {
	first, _, _ := strings.Cut(container, ",")

	var b strings.Builder

	for _, r := range strings.ToLower(strings.TrimSpace(first)) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}

	return b.String()
}
