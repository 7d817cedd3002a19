package domain

import "strings"

// ContentID identifies a playable item, e.g. a catalog song id.
type ContentID string

// Locator identifies the swarm resource for a content item.
type Locator string

type LocatorKind string

const (
	LocatorUnknown     LocatorKind = ""
	LocatorMagnet      LocatorKind = "magnet"
	LocatorTorrentURL  LocatorKind = "torrent_url"
	LocatorTorrentFile LocatorKind = "torrent_file"
)

func (l Locator) String() string {
	return strings.TrimSpace(string(l))
}

func (l Locator) Kind() LocatorKind {
	raw := l.String()
	lower := strings.ToLower(raw)
	switch {
	case raw == "":
		return LocatorUnknown
	case strings.HasPrefix(lower, "magnet:?"):
		return LocatorMagnet
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return LocatorTorrentURL
	case strings.HasSuffix(lower, ".torrent"):
		return LocatorTorrentFile
	default:
		return LocatorUnknown
	}
}

// Validate rejects locators no swarm engine could join.
func (l Locator) Validate() error {
	if l.Kind() == LocatorUnknown {
		return ErrNoLocator
	}
	if l.Kind() == LocatorMagnet && l.InfoHash() == "" {
		return ErrNoLocator
	}
	return nil
}

// InfoHash extracts the btih value of a magnet locator. Other kinds return "".
func (l Locator) InfoHash() string {
	magnet := l.String()
	if magnet == "" {
		return ""
	}

	lower := strings.ToLower(magnet)
	idx := strings.Index(lower, "xt=urn:btih:")
	if idx == -1 {
		return ""
	}

	start := idx + len("xt=urn:btih:")
	rest := magnet[start:]
	if rest == "" {
		return ""
	}

	end := strings.Index(rest, "&")
	if end == -1 {
		return rest
	}
	return rest[:end]
}
