package crawler

import (
	"errors"
	"fmt"
)

// ErrInvalidJob marks job parameters that cannot be executed.
var ErrInvalidJob = errors.New("invalid job")

// Validate checks that the parameters name everything their kind needs.
func (p JobParameters) Validate() error {
	switch p.Kind {
	case JobKindCatalog:
		return nil
	case JobKindStory, JobKindDownloadAll:
		if p.MangaID == "" {
			return fmt.Errorf("%w: %s job requires manga_id", ErrInvalidJob, p.Kind)
		}
		return nil
	case JobKindChapter:
		if p.MangaID == "" || p.ChapterID == "" {
			return fmt.Errorf("%w: chapter job requires manga_id and chapter_id", ErrInvalidJob)
		}
		return nil
	case "":
		return fmt.Errorf("%w: kind is required", ErrInvalidJob)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidJob, p.Kind)
	}
}
