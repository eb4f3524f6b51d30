package crawler

import "errors"

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrFetchFailed is returned when every fetch strategy was exhausted.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrChallenge marks a page that is still an anti-bot interstitial.
	ErrChallenge = errors.New("challenge page")
	// ErrEmptyPage marks a response with no usable HTML.
	ErrEmptyPage = errors.New("empty page")
	// ErrNoStrategies is returned when no fetch strategy is available.
	ErrNoStrategies = errors.New("no fetch strategies available")
	// ErrQueueClosed is returned by job queues after shutdown.
	ErrQueueClosed = errors.New("queue closed")
)
