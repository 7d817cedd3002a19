package anacrolix

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/anacrolix/torrent/metainfo"
)

const maxMetainfoBytes = 16 << 20

// fetchMetainfo downloads and parses a .torrent file.
func fetchMetainfo(ctx context.Context, client *http.Client, url string) (*metainfo.MetaInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build torrent request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch torrent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch torrent: unexpected status %d", resp.StatusCode)
	}
	mi, err := metainfo.Load(io.LimitReader(resp.Body, maxMetainfoBytes))
	if err != nil {
		return nil, fmt.Errorf("parse torrent: %w", err)
	}
	return mi, nil
}
