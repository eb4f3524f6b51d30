package crawler

import "math"

// NewDownloadStatus derives the percentage view. A story with no chapters
// reports zero percent.
func NewDownloadStatus(total, downloaded int) DownloadStatus {
	status := DownloadStatus{Total: total, Downloaded: downloaded}
	if total <= 0 {
		return status
	}
	pct := float64(downloaded) / float64(total) * 100
	status.Percentage = math.Round(pct*10) / 10
	return status
}

// ImageSetStatusFor reports whether every source produced a hosted image.
func ImageSetStatusFor(sources, hosted int) ImageSetStatus {
	if hosted >= sources {
		return ImageSetComplete
	}
	return ImageSetPartial
}
