package crawler

import (
	"errors"
	"testing"
)

func TestJobParametersValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		params  JobParameters
		wantErr bool
	}{
		{name: "catalog", params: JobParameters{Kind: JobKindCatalog}},
		{name: "story", params: JobParameters{Kind: JobKindStory, MangaID: "alpha"}},
		{name: "story without id", params: JobParameters{Kind: JobKindStory}, wantErr: true},
		{name: "download all", params: JobParameters{Kind: JobKindDownloadAll, MangaID: "alpha"}},
		{name: "download all without id", params: JobParameters{Kind: JobKindDownloadAll}, wantErr: true},
		{name: "chapter", params: JobParameters{Kind: JobKindChapter, MangaID: "alpha", ChapterID: "chuong-1"}},
		{name: "chapter without chapter id", params: JobParameters{Kind: JobKindChapter, MangaID: "alpha"}, wantErr: true},
		{name: "missing kind", params: JobParameters{}, wantErr: true},
		{name: "unknown kind", params: JobParameters{Kind: "purge"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.params.Validate()
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidJob) {
					t.Fatalf("expected ErrInvalidJob, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
		})
	}
}
