package progress

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Bars draws one mpb bar per chapter.
type Bars struct {
	p    *mpb.Progress
	mu   sync.Mutex
	bars map[string]*chapterBar
}

type chapterBar struct {
	bar    *mpb.Bar
	bytes  atomic.Int64
	failed atomic.Int64
}

// New returns Bars writing to out.
func New(out io.Writer) *Bars {
	return &Bars{
		p: mpb.New(
			mpb.WithWidth(52),
			mpb.WithOutput(out),
			mpb.WithRefreshRate(120*time.Millisecond),
		),
		bars: make(map[string]*chapterBar),
	}
}

func key(mangaID, chapterID string) string {
	return mangaID + "/" + chapterID
}

// ChapterStarted adds a bar sized to the number of image sources.
func (b *Bars) ChapterStarted(mangaID, chapterID string, total int) {
	cb := &chapterBar{}
	cb.bar = b.p.New(
		int64(total),
		mpb.BarStyle().Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(chapterID+"  "),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WCSyncWidth),
			decor.CountersNoUnit(" | %d/%d pages", decor.WCSyncWidth),
			decor.Any(func(_ decor.Statistics) string {
				return " | " + Human(cb.bytes.Load())
			}),
			decor.Any(func(_ decor.Statistics) string {
				if n := cb.failed.Load(); n > 0 {
					return fmt.Sprintf(" | %d skipped", n)
				}
				return ""
			}),
		),
	)
	b.mu.Lock()
	b.bars[key(mangaID, chapterID)] = cb
	b.mu.Unlock()
}

// ImageFinished advances the chapter's bar.
func (b *Bars) ImageFinished(mangaID, chapterID string, bytes int, ok bool) {
	cb := b.lookup(mangaID, chapterID)
	if cb == nil {
		return
	}
	if ok {
		cb.bytes.Add(int64(bytes))
	} else {
		cb.failed.Add(1)
	}
	cb.bar.Increment()
}

// ChapterFinished completes the chapter's bar.
func (b *Bars) ChapterFinished(mangaID, chapterID string, _ int) {
	b.mu.Lock()
	cb := b.bars[key(mangaID, chapterID)]
	delete(b.bars, key(mangaID, chapterID))
	b.mu.Unlock()
	if cb == nil {
		return
	}
	cb.bar.SetTotal(-1, true)
}

func (b *Bars) lookup(mangaID, chapterID string) *chapterBar {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bars[key(mangaID, chapterID)]
}

// Wait flushes and stops rendering. Bars must not be used afterwards.
func (b *Bars) Wait() {
	b.mu.Lock()
	for k, cb := range b.bars {
		cb.bar.Abort(false)
		delete(b.bars, k)
	}
	b.mu.Unlock()
	b.p.Wait()
}

// Human formats a byte count.
func Human(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
