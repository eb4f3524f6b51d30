// Package progress renders chapter download progress as terminal bars. It
// implements the image resolver's observer hooks so the CLI can show one bar
// per chapter while pages are relayed.
package progress
