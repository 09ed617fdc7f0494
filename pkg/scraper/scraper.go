// Package scraper fetches web pages for url knowledge base documents and
// reduces them to readable text.
package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 10 << 20

type ScraperConfig struct {
	MaxDepth          int
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string
	Timeout           time.Duration
	UserAgent         string
	Logger            *slog.Logger
	OnProgress        func(url string)
}

type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// Page is the readable content of one fetched URL.
type Page struct {
	URL   string
	Title string
	Text  string
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 1
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.RateLimit < 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %v", config.RateLimit)
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}
	if config.UserAgent == "" {
		config.UserAgent = "concierge-ingest/1.0"
	}

	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		log:     log,
	}, nil
}

func New() *Scraper {
	s, _ := NewWithConfig(ScraperConfig{})
	return s
}

// Fetch downloads one page and returns its title and main text.
func (s *Scraper) Fetch(ctx context.Context, pageURL string) (string, string, error) {
	page, _, err := s.fetch(ctx, pageURL)
	if err != nil {
		return "", "", err
	}
	return page.Title, page.Text, nil
}

func (s *Scraper) fetch(ctx context.Context, pageURL string) (Page, *goquery.Document, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Page{}, nil, fmt.Errorf("invalid page url %q", pageURL)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return Page{}, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Page{}, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return Page{}, nil, fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, nil, &StatusError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Page{}, nil, fmt.Errorf("failed to read %s: %w", pageURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Page{}, nil, fmt.Errorf("failed to parse %s: %w", pageURL, err)
	}

	page := Page{URL: pageURL, Title: strings.TrimSpace(doc.Find("title").First().Text())}

	article, err := readability.FromReader(bytes.NewReader(body), parsed)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		page.Text = s.cleanContent(article.TextContent)
		if page.Title == "" {
			page.Title = strings.TrimSpace(article.Title)
		}
	} else {
		s.log.Debug("scraper.readability_fallback", "url", pageURL)
		page.Text = s.extractMainContent(doc)
	}

	if page.Title == "" {
		page.Title = pageURL
	}
	return page, doc, nil
}

// StatusError reports a non-200 response. 4xx responses other than 429 will
// not get better on retry.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("received status code %d for URL: %s", e.StatusCode, e.URL)
}

func (e *StatusError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

func (s *Scraper) shouldProcessURL(urlStr, baseHost string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	// Check if URL is from the same host
	if parsedURL.Host != baseHost {
		return false
	}

	// Check extensions
	ext := strings.ToLower(parsedURL.Path)
	validExt := false
	for _, allowedExt := range s.config.AllowedExtensions {
		if strings.HasSuffix(ext, allowedExt) {
			validExt = true
			break
		}
	}
	if !validExt {
		return false
	}

	// Check ignore patterns
	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

func (s *Scraper) cleanContent(content string) string {
	// Remove extra whitespace
	content = strings.Join(strings.Fields(content), " ")

	// Remove common noise
	noisePatterns := []string{
		"Cookie Policy",
		"Accept Cookies",
		"Privacy Policy",
		"Terms of Service",
	}

	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}

	return strings.TrimSpace(content)
}

func (s *Scraper) extractMainContent(doc *goquery.Document) string {
	doc.Find("script, style, noscript").Remove()

	// Try to find main content area
	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".entry-content",
		"#main",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}

	// Fallback to body if no main content found
	if strings.TrimSpace(content) == "" {
		content = doc.Find("body").Text()
	}

	return s.cleanContent(content)
}

// Crawl fetches startURL and follows same-host links up to MaxDepth. Pages
// that fail are logged and skipped.
func (s *Scraper) Crawl(ctx context.Context, startURL string) ([]Page, error) {
	parsed, err := url.Parse(startURL)
	if err != nil {
		return nil, err
	}

	var pages []Page
	visited := make(map[string]bool)
	err = s.crawlRecursive(ctx, startURL, parsed.Host, 0, visited, &pages)
	return pages, err
}

func (s *Scraper) crawlRecursive(ctx context.Context, urlStr, baseHost string, depth int, visited map[string]bool, pages *[]Page) error {
	if depth > s.config.MaxDepth || visited[urlStr] {
		return nil
	}

	if !s.shouldProcessURL(urlStr, baseHost) {
		return nil
	}

	visited[urlStr] = true
	if s.config.OnProgress != nil {
		s.config.OnProgress(urlStr)
	}

	page, doc, err := s.fetch(ctx, urlStr)
	if err != nil {
		if depth == 0 {
			return err
		}
		s.log.Warn("scraper.page_failed", "url", urlStr, "error", err)
		return nil
	}
	*pages = append(*pages, page)

	base, err := url.Parse(urlStr)
	if err != nil {
		return nil
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		abs.Fragment = ""
		links = append(links, abs.String())
	})

	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.crawlRecursive(ctx, link, baseHost, depth+1, visited, pages); err != nil {
			return err
		}
	}
	return nil
}
