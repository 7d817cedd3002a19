package domain

type FileRef struct {
	Index  int    `json:"index"`
	Path   string `json:"path"`
	Length int64  `json:"length"`
}

// SelectLargest picks the media file of a multi-file transfer: the single
// largest file by byte size. Ties keep the lowest index.
func SelectLargest(files []FileRef) (FileRef, bool) {
	if len(files) == 0 {
		return FileRef{}, false
	}
	best := files[0]
	for _, f := range files[1:] {
		if f.Length > best.Length {
			best = f
		}
	}
	return best, true
}
