// Package solver implements a fetch strategy backed by a FlareSolverr
// compatible challenge-solving service.
package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/manga-crawler/internal/crawler"
)

// Name identifies this strategy in logs, metrics and fetched pages.
const Name = "solver"

const (
	defaultMaxTimeout   = 60 * time.Second
	defaultProbeTimeout = 5 * time.Second
	// slack added on top of the solver's own budget for the HTTP round trip.
	clientSlack = 15 * time.Second
)

// Config controls how the solver service is reached.
type Config struct {
	URL          string
	MaxTimeout   time.Duration
	ProbeTimeout time.Duration
}

// Strategy asks the solver service to load pages on the crawler's behalf.
type Strategy struct {
	endpoint     string
	maxTimeout   time.Duration
	probeTimeout time.Duration
	client       *http.Client
}

// New builds a solver strategy. A nil client uses a default http.Client.
func New(cfg Config, client *http.Client) (*Strategy, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if endpoint == "" {
		return nil, errors.New("solver url is required")
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = defaultMaxTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Strategy{
		endpoint:     endpoint,
		maxTimeout:   cfg.MaxTimeout,
		probeTimeout: cfg.ProbeTimeout,
		client:       client,
	}, nil
}

// Name implements crawler.Strategy.
func (s *Strategy) Name() string { return Name }

// Probe checks that the solver service answers on its root endpoint.
func (s *Strategy) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"/", nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe solver: %w", err)
	}
	defer closeBody(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe solver: unexpected status %d", resp.StatusCode)
	}
	return nil
}

type request struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url"`
	MaxTimeout int64  `json:"maxTimeout"`
}

type response struct {
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	Solution solution `json:"solution"`
}

type solution struct {
	URL       string   `json:"url"`
	Status    int      `json:"status"`
	Response  string   `json:"response"`
	UserAgent string   `json:"userAgent"`
	Cookies   []cookie `json:"cookies"`
}

type cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
}

// Fetch implements crawler.Strategy.
func (s *Strategy) Fetch(ctx context.Context, fr crawler.FetchRequest) (crawler.Page, error) {
	budget := s.maxTimeout
	if fr.Timeout > 0 && fr.Timeout < budget {
		budget = fr.Timeout
	}
	payload, err := json.Marshal(request{Cmd: "request.get", URL: fr.URL, MaxTimeout: budget.Milliseconds()})
	if err != nil {
		return crawler.Page{}, fmt.Errorf("encode solver request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, budget+clientSlack)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/v1", bytes.NewReader(payload))
	if err != nil {
		return crawler.Page{}, fmt.Errorf("build solver request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("solver request: %w", err)
	}
	defer closeBody(resp.Body)

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return crawler.Page{}, fmt.Errorf("decode solver response (status %d): %w", resp.StatusCode, err)
	}
	if out.Status != "ok" {
		return crawler.Page{}, fmt.Errorf("solver status %q: %s", out.Status, out.Message)
	}
	if out.Solution.Status != 0 && (out.Solution.Status < 200 || out.Solution.Status > 299) {
		return crawler.Page{}, fmt.Errorf("solver upstream status %d", out.Solution.Status)
	}

	pageURL := out.Solution.URL
	if pageURL == "" {
		pageURL = fr.URL
	}
	return crawler.Page{
		URL:        pageURL,
		HTML:       out.Solution.Response,
		StatusCode: out.Solution.Status,
		Cookies:    toHTTPCookies(out.Solution.Cookies),
		UserAgent:  out.Solution.UserAgent,
		Strategy:   Name,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

func toHTTPCookies(in []cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		if c.Name == "" {
			continue
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HttpOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0).UTC()
		}
		out = append(out, hc)
	}
	return out
}

func closeBody(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
