// Package cmd defines and implements the CLI commands for the manga-crawler executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/manga-crawler/internal/app"
	"github.com/JakeFAU/manga-crawler/internal/config"
	"github.com/JakeFAU/manga-crawler/internal/logging"
	"github.com/JakeFAU/manga-crawler/internal/progress"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const (
	appKey appKeyType = "app"

	// progressAnnotation marks commands that draw chapter progress bars.
	progressAnnotation = "progress"
)

// newApp is the application factory. It's a variable so tests can build
// the App with fake fetch strategies.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...app.Option) (*app.App, error) {
	return app.New(ctx, cfg, logger, opts...)
}

// session holds what PersistentPreRunE builds so it can be released after
// the command finishes, whether it failed or not.
type session struct {
	app  *app.App
	bars *progress.Bars
}

func (s *session) close() {
	if s.bars != nil {
		s.bars.Wait()
		s.bars = nil
	}
	if s.app != nil {
		s.app.Close()
		s.app = nil
	}
}

// newRootCmd creates and configures the root command. The returned func
// releases the App and must run once Execute returns.
func newRootCmd() (*cobra.Command, func()) {
	var cfgFile string
	sess := &session{}
	cmd := &cobra.Command{
		Use:   "manga-crawler",
		Short: "Crawls a manga site into a catalog, story details and hosted chapter images.",
		Long: `manga-crawler fetches pages from a challenge-protected manga site through a
solving service or a real browser, extracts the catalog, story details and
chapter lists, and relays chapter images to durable storage.`,
		SilenceUsage: true,

		// Builds the App once config is known and hands it to the subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			var opts []app.Option
			ctx := cmd.Context()
			if cmd.Annotations[progressAnnotation] == "true" {
				sess.bars = progress.New(cmd.ErrOrStderr())
				opts = append(opts, app.WithObserver(sess.bars))
			}
			appInstance, err := newApp(ctx, cfg, logger, opts...)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			sess.app = appInstance
			cmd.SetContext(context.WithValue(ctx, appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env overrides use the MANGA_ prefix)")

	cmd.AddCommand(
		newHomeCmd(),
		newStoryCmd(),
		newChapterCmd(),
		newDownloadAllCmd(),
		newStatusCmd(),
		newServeCmd(),
	)
	return cmd, sess.close
}

// Execute is the main entry point. Only config, bootstrap and usage errors
// produce a non-zero exit; operation failures are logged by the subcommands.
func Execute() {
	os.Exit(execute())
}

func execute() int {
	ctx, stop := signalContext()
	defer stop()
	root, cleanup := newRootCmd()
	defer cleanup()
	if err := root.ExecuteContext(ctx); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		return 1
	}
	return 0
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
