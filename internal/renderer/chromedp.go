// Package renderer captures pages with headless Chrome: HTML snapshot,
// full-page screenshot, and a WARC rendition of the page plus its
// subresources.
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bigwebarchive/archiver/internal/archive"
	"github.com/bigwebarchive/archiver/internal/warc"
)

// Config captures renderer behavior knobs.
type Config struct {
	UserAgent       string        `mapstructure:"user_agent"`
	NavTimeout      time.Duration `mapstructure:"nav_timeout"`
	MaxParallel     int           `mapstructure:"max_parallel"`
	DomainQPS       float64       `mapstructure:"domain_qps"`
	ResourceTimeout time.Duration `mapstructure:"resource_timeout"`
	MaxResources    int           `mapstructure:"max_resources"`
}

// Chromedp renders pages using headless Chrome via chromedp.
type Chromedp struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	sem             chan struct{}
	domainLimiters  sync.Map
	cfg             Config
	client          *http.Client
}

// NewChromedp starts a browser and returns a renderer.
func NewChromedp(cfg Config, logger *zap.Logger) (*Chromedp, error) {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.ResourceTimeout <= 0 {
		cfg.ResourceTimeout = 10 * time.Second
	}
	if cfg.MaxResources <= 0 {
		cfg.MaxResources = 100
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Chromedp{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		sem:             make(chan struct{}, cfg.MaxParallel),
		cfg:             cfg,
		client:          &http.Client{Timeout: cfg.ResourceTimeout},
	}, nil
}

// Close tears down the chromedp allocator and browser contexts.
func (r *Chromedp) Close() error {
	if r == nil {
		return nil
	}
	r.browserCancel()
	r.allocatorCancel()
	return nil
}

// NewSession acquires a render slot and opens a fresh browser tab. The
// returned session must be closed on every exit path.
func (r *Chromedp) NewSession(ctx context.Context) (archive.Session, error) {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire render slot: %w", ctx.Err())
	}

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	return &session{
		renderer: r,
		tabCtx:   tabCtx,
		cancel:   cancelTab,
	}, nil
}

type session struct {
	renderer  *Chromedp
	tabCtx    context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	url       string
}

// Navigate loads the page and waits for the body to be ready.
func (s *session) Navigate(ctx context.Context, rawURL string) error {
	if err := s.renderer.waitDomainBudget(ctx, rawURL); err != nil {
		return fmt.Errorf("render rate limit: %w", err)
	}

	taskCtx, cancelTask := context.WithTimeout(s.tabCtx, s.renderer.cfg.NavTimeout)
	defer cancelTask()
	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(s.renderer.cfg.UserAgent),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return fmt.Errorf("navigate %s: %w: %v", rawURL, archive.ErrRendererFailure, err)
	}
	s.url = rawURL
	return nil
}

// HTML returns the rendered DOM snapshot.
func (s *session) HTML(ctx context.Context) (string, error) {
	taskCtx, cancelTask := context.WithTimeout(s.tabCtx, s.renderer.cfg.NavTimeout)
	defer cancelTask()
	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	var html string
	if err := chromedp.Run(taskCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("capture html: %w: %v", archive.ErrRendererFailure, err)
	}
	return html, nil
}

// Screenshot returns a full-page PNG.
func (s *session) Screenshot(ctx context.Context) ([]byte, error) {
	taskCtx, cancelTask := context.WithTimeout(s.tabCtx, s.renderer.cfg.NavTimeout)
	defer cancelTask()
	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	var png []byte
	if err := chromedp.Run(taskCtx, chromedp.FullScreenshot(&png, 90)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w: %v", archive.ErrRendererFailure, err)
	}
	return png, nil
}

// WARC builds a gzipped WARC stream: the rendered document plus every page
// subresource the browser reports, refetched over HTTP.
func (s *session) WARC(ctx context.Context) ([]byte, error) {
	html, err := s.HTML(ctx)
	if err != nil {
		return nil, err
	}

	resources, err := s.resourceURLs(ctx)
	if err != nil {
		// Resource enumeration failing does not lose the main document.
		s.renderer.logger.Warn("resource enumeration failed", zap.Error(err))
		resources = nil
	}

	var buf bytes.Buffer
	w := warc.NewWriter(&buf)
	now := time.Now().UTC()

	if err := w.WriteResponse(warc.Record{
		TargetURI:   s.url,
		Date:        now,
		StatusCode:  http.StatusOK,
		Body:        []byte(html),
		ContentType: "text/html",
	}); err != nil {
		return nil, fmt.Errorf("write document record: %w", err)
	}

	count := 0
	for _, res := range resources {
		if count >= s.renderer.cfg.MaxResources {
			break
		}
		parsed, err := url.Parse(res)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			continue
		}
		rec, err := s.fetchResource(ctx, res)
		if err != nil {
			s.renderer.logger.Debug("resource fetch failed",
				zap.String("url", res), zap.Error(err))
			continue
		}
		if err := w.WriteResponse(rec); err != nil {
			return nil, fmt.Errorf("write resource record: %w", err)
		}
		count++
	}
	return buf.Bytes(), nil
}

func (s *session) resourceURLs(ctx context.Context) ([]string, error) {
	taskCtx, cancelTask := context.WithTimeout(s.tabCtx, s.renderer.cfg.NavTimeout)
	defer cancelTask()
	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	var urls []string
	script := `performance.getEntriesByType('resource').map(r => r.name)`
	if err := chromedp.Run(taskCtx, chromedp.Evaluate(script, &urls)); err != nil {
		return nil, fmt.Errorf("enumerate resources: %w", err)
	}
	return urls, nil
}

func (s *session) fetchResource(ctx context.Context, rawURL string) (warc.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return warc.Record{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.renderer.cfg.UserAgent)

	resp, err := s.renderer.client.Do(req)
	if err != nil {
		return warc.Record{}, fmt.Errorf("fetch resource: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return warc.Record{}, fmt.Errorf("read resource: %w", err)
	}

	return warc.Record{
		TargetURI:  rawURL,
		Date:       time.Now().UTC(),
		StatusCode: resp.StatusCode,
		StatusText: strings.TrimPrefix(resp.Status, fmt.Sprintf("%d ", resp.StatusCode)),
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

// Close releases the tab and its render slot. Safe to call more than once.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.renderer.sem
	})
	return nil
}

func (r *Chromedp) waitDomainBudget(ctx context.Context, rawURL string) error {
	if r.cfg.DomainQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := r.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(r.cfg.DomainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
