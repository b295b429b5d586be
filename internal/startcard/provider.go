package startcard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oshokin/stoppuhr/internal/domain/timing"
	"github.com/oshokin/stoppuhr/internal/logger"
)

// maxExportSize bounds the size of a downloaded export.
const maxExportSize = 16 << 20

// Settings locate the export.
type Settings struct {
	// BaseURL is the address of the meet software.
	BaseURL string `json:"startcards_base_url" yaml:"base_url"`
	// Suffix is the export path appended to BaseURL.
	Suffix string `json:"startcards_suffix" yaml:"suffix"`
}

// URL returns the export address, empty when no base URL is set.
func (s Settings) URL() string {
	base := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if base == "" {
		return ""
	}

	suffix := strings.TrimSpace(s.Suffix)
	if suffix != "" && !strings.HasPrefix(suffix, "/") {
		suffix = "/" + suffix
	}

	return base + suffix
}

// Snapshot is the provider state exposed to the API.
type Snapshot struct {
	// OK reports whether the latest refresh succeeded.
	OK bool `json:"ok"`
	// RowCount is the number of cards.
	RowCount int `json:"row_count"`
	// MaxLane is the highest lane found, or the fallback.
	MaxLane int `json:"max_lane"`
	// Runs are the distinct runs.
	Runs []string `json:"runs"`
	// Rows are the column names of the export.
	Rows []string `json:"rows"`
	// SourceURL is the address of the latest fetch.
	SourceURL string `json:"source_url"`
	// LastFetchTS is the time of the latest successful fetch in seconds.
	LastFetchTS int64 `json:"last_fetch_ts"`
	// Error is the failure of the latest refresh.
	Error string `json:"error,omitempty"`
	// PerRun groups the cards by run.
	PerRun map[string][]Card `json:"startcards_per_run"`
}

// Clone returns a copy safe to hand out.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}

	cloned := *s
	cloned.Runs = append([]string(nil), s.Runs...)
	cloned.Rows = append([]string(nil), s.Rows...)
	cloned.PerRun = make(map[string][]Card, len(s.PerRun))

	for run, cards := range s.PerRun {
		copied := make([]Card, len(cards))

		for i, card := range cards {
			c := make(Card, len(card))
			for k, v := range card {
				c[k] = v
			}

			copied[i] = c
		}

		cloned.PerRun[run] = copied
	}

	return &cloned
}

// HTTPDoer performs HTTP requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider fetches start cards and keeps the last good snapshot.
type Provider struct {
	client         HTTPDoer
	defaultMaxLane int
	now            func() time.Time

	// settings is the current export location.
	settings Settings
	// snapshot is the latest state, never nil.
	snapshot *Snapshot
	// mu guards settings and snapshot.
	mu sync.RWMutex
	// fetchMu serialises refreshes.
	fetchMu sync.Mutex
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client HTTPDoer) Option {
	return func(p *Provider) {
		if client != nil {
			p.client = client
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProvider creates a provider. defaultMaxLane is reported until an export
// with lane numbers has been fetched.
func NewProvider(settings Settings, defaultMaxLane int, timeout time.Duration, opts ...Option) *Provider {
	p := &Provider{
		client:         &http.Client{Timeout: timeout},
		defaultMaxLane: defaultMaxLane,
		now:            time.Now,
		settings:       settings,
	}

	p.snapshot = &Snapshot{
		MaxLane: defaultMaxLane,
		Runs:    []string{},
		Rows:    []string{},
		PerRun:  map[string][]Card{},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Settings returns the export location.
func (p *Provider) Settings() Settings {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.settings
}

// SetSettings replaces the export location. Empty fields keep their value.
func (p *Provider) SetSettings(settings Settings) Settings {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v := strings.TrimSpace(settings.BaseURL); v != "" {
		p.settings.BaseURL = v
	}

	if v := strings.TrimSpace(settings.Suffix); v != "" {
		p.settings.Suffix = v
	}

	return p.settings
}

// Snapshot returns a copy of the current state.
func (p *Provider) Snapshot() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.snapshot.Clone()
}

// MaxLane returns the lane count of the current snapshot.
func (p *Provider) MaxLane() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.snapshot.MaxLane
}

// Refresh downloads and parses the export. On failure the previous cards
// are kept, the error is stored on the snapshot and an error wrapping
// timing.ErrTransport is returned.
func (p *Provider) Refresh(ctx context.Context) (*Snapshot, error) {
	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()

	url := p.Settings().URL()

	table, err := p.fetch(ctx, url)
	if err != nil {
		err = fmt.Errorf("refresh start cards: %w: %w", timing.ErrTransport, err)

		p.mu.Lock()
		p.snapshot.OK = false
		p.snapshot.Error = err.Error()
		p.snapshot.SourceURL = url
		snapshot := p.snapshot.Clone()
		p.mu.Unlock()

		logger.WarnKV(ctx, "Start card refresh failed", "url", url, "error", err)

		return snapshot, err
	}

	maxLane := table.MaxLane()
	if maxLane < 1 {
		maxLane = p.defaultMaxLane
	}

	snapshot := &Snapshot{
		OK:          true,
		RowCount:    len(table.Cards),
		MaxLane:     maxLane,
		Runs:        table.Runs(),
		Rows:        table.Columns,
		SourceURL:   url,
		LastFetchTS: p.now().Unix(),
		PerRun:      table.PerRun(),
	}

	p.mu.Lock()
	p.snapshot = snapshot
	p.mu.Unlock()

	logger.InfoKV(ctx, "Start cards refreshed",
		"url", url,
		"row_count", snapshot.RowCount,
		"max_lane", snapshot.MaxLane,
		"runs", len(snapshot.Runs),
	)

	return snapshot.Clone(), nil
}

// fetch downloads and parses the export at url.
func (p *Provider) fetch(ctx context.Context, url string) (*Table, error) {
	if url == "" {
		return nil, errNoSource
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: %w: %s", url, errUnexpectedStatus, resp.Status)
	}

	return Parse(io.LimitReader(resp.Body, maxExportSize))
}
