package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/manga-crawler/internal/app"
	"github.com/JakeFAU/manga-crawler/internal/config"
	"github.com/JakeFAU/manga-crawler/internal/crawler"
)

type httpStrategy struct{}

func (httpStrategy) Name() string { return "http" }

func (httpStrategy) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.Page, error) {
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return crawler.Page{}, err
	}
	resp, err := http.DefaultClient.Do(r)
	if err != nil {
		return crawler.Page{}, err
	}
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return crawler.Page{}, err
	}
	return crawler.Page{URL: req.URL, HTML: string(body), StatusCode: resp.StatusCode, Strategy: "http"}, nil
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/truyen-tranh/one-piece/chuong-1", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<div class="reading-detail"><img src="%s/img/1.jpg"></div>`, srv.URL)
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte{1}, 4096))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := fmt.Sprintf(`site:
  base_url: %s
solver:
  enabled: false
logging:
  development: false
`, baseURL)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// useFakeStrategies swaps the App factory for one that never starts a
// browser and records the App's logs and lifecycle. Tests that call it must
// not run in parallel.
func useFakeStrategies(t *testing.T) *fakeApps {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	fakes := &fakeApps{logs: logs}
	orig := newApp
	newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...app.Option) (*app.App, error) {
		opts = append(opts, app.WithStrategies(httpStrategy{}))
		a, err := app.New(ctx, cfg, zap.New(core), opts...)
		if err == nil {
			fakes.built = append(fakes.built, a)
		}
		return a, err
	}
	t.Cleanup(func() { newApp = orig })
	return fakes
}

type fakeApps struct {
	logs  *observer.ObservedLogs
	built []*app.App
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, cleanup := newRootCmd()
	defer cleanup()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	t.Parallel()

	root, _ := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.Subset(t, names, []string{"home", "story", "chapter", "download-all", "status", "serve"})
}

func TestChapterCmd_MaterializesAndPrintsSet(t *testing.T) {
	useFakeStrategies(t)
	srv := newSite(t)
	cfgPath := writeConfig(t, srv.URL)

	out, err := run(t, "--config", cfgPath, "chapter", "one-piece", "chuong-1")
	require.NoError(t, err)
	require.Contains(t, out, "memory://manga/one-piece/chuong-1/000.jpg")
	require.Contains(t, out, `"status": "complete"`)
}

func TestStatusCmd_UnknownStory(t *testing.T) {
	useFakeStrategies(t)
	srv := newSite(t)

	out, err := run(t, "--config", writeConfig(t, srv.URL), "status", "one-piece")
	require.NoError(t, err)
	require.Contains(t, out, `"total": 0`)
	require.Contains(t, out, `"downloaded": 0`)
}

func TestChapterCmd_FailureIsLoggedAndClosesApp(t *testing.T) {
	fakes := useFakeStrategies(t)
	srv := newSite(t)

	out, err := run(t, "--config", writeConfig(t, srv.URL),
		"chapter", "one-piece", "chuong-9", "--url", "http://127.0.0.1:1/unreachable")
	require.NoError(t, err)
	require.Empty(t, out)
	require.Equal(t, 1, fakes.logs.FilterMessage("materialize chapter failed").Len())
	require.Len(t, fakes.built, 1)
	require.Equal(t, 1, fakes.logs.FilterMessage("application services closed").Len())
}

func TestCmd_ArgumentValidation(t *testing.T) {
	useFakeStrategies(t)
	srv := newSite(t)
	cfgPath := writeConfig(t, srv.URL)

	_, err := run(t, "--config", cfgPath, "story")
	require.Error(t, err)

	_, err = run(t, "--config", cfgPath, "chapter", "one-piece")
	require.Error(t, err)
}

func TestRootCmd_ConfigErrors(t *testing.T) {
	useFakeStrategies(t)

	_, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "status", "x")
	require.ErrorContains(t, err, "load config")
}

func TestResolveApp_Missing(t *testing.T) {
	t.Parallel()

	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
