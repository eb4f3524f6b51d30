package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/manga-crawler/internal/app"
)

// logFailure records a failed operation; the command itself still succeeds.
func logFailure(a *app.App, op string, err error) error {
	a.Logger.Error(op+" failed", zap.Error(err))
	return nil
}

func newHomeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "home",
		Short: "Refresh the catalog from the site's home page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := a.Service.RefreshCatalog(cmd.Context())
			if err != nil {
				return logFailure(a, "refresh catalog", err)
			}
			a.Logger.Info("catalog refreshed", zap.Int("entries", len(entries)))
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}
}

func newStoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "story <manga-id>",
		Short: "Refresh a story's details and inferred chapter list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			detail, err := a.Service.RefreshStory(cmd.Context(), args[0])
			if err != nil {
				return logFailure(a, "refresh story", err)
			}
			return printJSON(cmd.OutOrStdout(), detail)
		},
	}
}

func newChapterCmd() *cobra.Command {
	var chapterURL string
	cmd := &cobra.Command{
		Use:         "chapter <manga-id> <chapter-id>",
		Short:       "Materialize one chapter's images",
		Args:        cobra.ExactArgs(2),
		Annotations: map[string]string{progressAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			set, err := a.Service.MaterializeChapter(cmd.Context(), args[0], args[1], chapterURL)
			if err != nil {
				return logFailure(a, "materialize chapter", err)
			}
			return printJSON(cmd.OutOrStdout(), set)
		},
	}
	cmd.Flags().StringVar(&chapterURL, "url", "", "chapter page URL (default: derived from the ids)")
	return cmd
}

func newDownloadAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "download-all <manga-id>",
		Short:       "Materialize every chapter of a story",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{progressAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := a.Service.DownloadAll(cmd.Context(), args[0])
			if err != nil {
				return logFailure(a, "download all", err)
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <manga-id>",
		Short: "Show how many chapters of a story are materialized",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			status, err := a.Service.DownloadStatus(cmd.Context(), args[0])
			if err != nil {
				return logFailure(a, "download status", err)
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}
