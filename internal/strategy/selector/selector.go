// Package selector implements a rip.Strategy driven by CSS selectors, for
// sites whose albums are plain HTML galleries.
package selector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-ripper/internal/fetcher"
	"github.com/JakeFAU/album-ripper/internal/metrics"
	"github.com/JakeFAU/album-ripper/internal/rip"
)

// Config describes how to find things on an album page.
type Config struct {
	// ItemSelector matches elements carrying item URLs.
	ItemSelector string
	// ItemAttrs are tried in order on each match; the first non-empty wins.
	ItemAttrs []string
	// NextSelector matches the link to the next page.
	NextSelector string
	// DescriptionSelector matches links to description pages.
	DescriptionSelector string
	// DescriptionTextSelector picks the text on a description page.
	DescriptionTextSelector string
	// AlbumListPattern marks root URLs that list sub-albums instead of items.
	AlbumListPattern string
	// AlbumSelector matches sub-album links on an album list page.
	AlbumSelector string
	// TitleSelector picks the album title.
	TitleSelector string

	KeepSortOrder   bool
	AllowDuplicates bool
	DescSleep       time.Duration
	// SendReferrer sends the album root as Referer on item downloads.
	SendReferrer   bool
	InferExtension bool
	Cookies        map[string]string
}

// DefaultConfig matches image galleries with rel=next pagination.
func DefaultConfig() Config {
	return Config{
		ItemSelector:            "img",
		ItemAttrs:               []string{"data-src", "src"},
		NextSelector:            `a[rel="next"]`,
		DescriptionTextSelector: "body",
		TitleSelector:           "title",
		KeepSortOrder:           true,
		DescSleep:               100 * time.Millisecond,
		SendReferrer:            true,
	}
}

// Strategy walks an album with CSS selectors.
type Strategy struct {
	root      string
	cfg       Config
	albumList *regexp.Regexp
	pages     fetcher.Fetcher
	headless  fetcher.Fetcher
	detector  fetcher.HeadlessDetector
	logger    *zap.Logger

	mu      sync.Mutex
	rootDoc *Document
}

// New builds a Strategy for root. headless and detector may be nil, which
// disables promotion to the headless renderer.
func New(
	root string,
	cfg Config,
	pages fetcher.Fetcher,
	headless fetcher.Fetcher,
	detector fetcher.HeadlessDetector,
	logger *zap.Logger,
) (*Strategy, error) {
	if pages == nil {
		return nil, errors.New("page fetcher is required")
	}
	if cfg.ItemSelector == "" {
		return nil, errors.New("item selector is required")
	}
	if len(cfg.ItemAttrs) == 0 {
		cfg.ItemAttrs = []string{"src"}
	}
	if cfg.DescriptionTextSelector == "" {
		cfg.DescriptionTextSelector = "body"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Strategy{
		root:     root,
		cfg:      cfg,
		pages:    pages,
		headless: headless,
		detector: detector,
		logger:   logger,
	}
	if cfg.AlbumListPattern != "" {
		re, err := regexp.Compile(cfg.AlbumListPattern)
		if err != nil {
			return nil, fmt.Errorf("compile album list pattern: %w", err)
		}
		s.albumList = re
	}
	return s, nil
}

// Document is one parsed album page.
type Document struct {
	url *url.URL
	doc *goquery.Document
	// UsedHeadless is set when the page was rendered by the headless fetcher.
	UsedHeadless bool
}

// Location implements rip.Page.
func (d *Document) Location() string { return d.url.String() }

// Capabilities implements rip.Strategy.
func (s *Strategy) Capabilities() rip.Capabilities {
	return rip.Capabilities{
		QueueSupport:       s.albumList != nil && s.cfg.AlbumSelector != "",
		DescriptionSupport: s.cfg.DescriptionSelector != "",
		KeepSortOrder:      s.cfg.KeepSortOrder,
		AllowDuplicates:    s.cfg.AllowDuplicates,
		DescSleep:          s.cfg.DescSleep,
	}
}

// FirstPage implements rip.Strategy.
func (s *Strategy) FirstPage(ctx context.Context) (rip.Page, error) {
	return s.rootDocument(ctx)
}

// NextPage follows the first NextSelector link. It returns nil when the
// page has none.
func (s *Strategy) NextPage(ctx context.Context, page rip.Page) (rip.Page, error) {
	if s.cfg.NextSelector == "" {
		return nil, nil
	}
	doc, err := asDocument(page)
	if err != nil {
		return nil, err
	}
	links := doc.links(s.cfg.NextSelector, "href")
	if len(links) == 0 {
		return nil, nil
	}
	return s.fetchDocument(ctx, links[0])
}

// URLsFromPage returns the absolute item URLs on page in document order,
// without repeats.
func (s *Strategy) URLsFromPage(_ context.Context, page rip.Page) ([]string, error) {
	doc, err := asDocument(page)
	if err != nil {
		return nil, err
	}
	return doc.links(s.cfg.ItemSelector, s.cfg.ItemAttrs...), nil
}

// DescriptionsFromPage implements rip.DescriptionSource.
func (s *Strategy) DescriptionsFromPage(_ context.Context, page rip.Page) ([]string, error) {
	doc, err := asDocument(page)
	if err != nil {
		return nil, err
	}
	return doc.links(s.cfg.DescriptionSelector, "href"), nil
}

// Description fetches link and extracts the DescriptionTextSelector text.
func (s *Strategy) Description(ctx context.Context, link string, _ rip.Page) (rip.Description, error) {
	doc, err := s.fetchDocument(ctx, link)
	if err != nil {
		return rip.Description{}, err
	}
	text := strings.TrimSpace(doc.doc.Find(s.cfg.DescriptionTextSelector).First().Text())
	return rip.Description{Text: text}, nil
}

// PageContainsAlbums implements rip.AlbumQueuer.
func (s *Strategy) PageContainsAlbums(root string) bool {
	return s.albumList != nil && s.albumList.MatchString(root)
}

// AlbumsToQueue implements rip.AlbumQueuer.
func (s *Strategy) AlbumsToQueue(_ context.Context, page rip.Page) ([]string, error) {
	doc, err := asDocument(page)
	if err != nil {
		return nil, err
	}
	return doc.links(s.cfg.AlbumSelector, "href"), nil
}

// AlbumTitle implements rip.AlbumTitler. The root page is cached for FirstPage.
func (s *Strategy) AlbumTitle(ctx context.Context, _ string) (string, error) {
	if s.cfg.TitleSelector == "" {
		return "", errors.New("no title selector configured")
	}
	doc, err := s.rootDocument(ctx)
	if err != nil {
		return "", err
	}
	title := strings.TrimSpace(doc.doc.Find(s.cfg.TitleSelector).First().Text())
	if title == "" {
		return "", fmt.Errorf("no %q element on %s", s.cfg.TitleSelector, s.root)
	}
	return title, nil
}

// HandleItem implements rip.ItemHandler. It adds the album referrer,
// configured cookies and extension inference to the default submission.
func (s *Strategy) HandleItem(ctx context.Context, r *rip.Rip, loc rip.Locator, index int) error {
	req := rip.Request{
		Locator:        loc,
		Destination:    filepath.Join(r.WorkingDir(), r.Prefix(index)+rip.FileNameFromURL(loc.String())),
		Cookies:        s.cfg.Cookies,
		InferExtension: s.cfg.InferExtension,
	}
	if s.cfg.SendReferrer {
		req.Referrer = s.root
	}
	_, err := r.Submit(ctx, req)
	return err
}

func (s *Strategy) rootDocument(ctx context.Context) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rootDoc != nil {
		return s.rootDoc, nil
	}
	doc, err := s.fetchDocument(ctx, s.root)
	if err != nil {
		return nil, err
	}
	s.rootDoc = doc
	return doc, nil
}

func (s *Strategy) fetchDocument(ctx context.Context, rawURL string) (*Document, error) {
	headers := http.Header{}
	if s.cfg.SendReferrer && rawURL != s.root {
		headers.Set("Referer", s.root)
	}
	resp, err := s.pages.Fetch(ctx, fetcher.Request{URL: rawURL, Headers: headers})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if promoted, ok := s.maybePromote(ctx, rawURL, headers, resp); ok {
		resp = promoted
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	location := resp.URL
	if location == "" {
		location = rawURL
	}
	base, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse location %s: %w", location, err)
	}
	return &Document{url: base, doc: doc, UsedHeadless: resp.UsedHeadless}, nil
}

func (s *Strategy) maybePromote(
	ctx context.Context,
	rawURL string,
	headers http.Header,
	probe fetcher.Response,
) (fetcher.Response, bool) {
	if s.headless == nil || s.detector == nil || !s.detector.ShouldPromote(probe) {
		return probe, false
	}
	resp, err := s.headless.Fetch(ctx, fetcher.Request{URL: rawURL, Headers: headers, UseHeadless: true})
	if err != nil {
		s.logger.Warn("headless promotion failed", zap.String("url", rawURL), zap.Error(err))
		return probe, false
	}
	metrics.ObserveHeadlessPromotion()
	s.logger.Info("headless promotion applied", zap.String("url", rawURL))
	resp.UsedHeadless = true
	return resp, true
}

func asDocument(page rip.Page) (*Document, error) {
	doc, ok := page.(*Document)
	if !ok {
		return nil, fmt.Errorf("unexpected page type %T", page)
	}
	return doc, nil
}

// links resolves the first non-empty attr of every selection match against
// the page URL, dropping repeats and non-http schemes.
func (d *Document) links(selector string, attrs ...string) []string {
	if selector == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	d.doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		for _, attr := range attrs {
			raw, ok := sel.Attr(attr)
			raw = strings.TrimSpace(raw)
			if !ok || raw == "" {
				continue
			}
			ref, err := url.Parse(raw)
			if err != nil {
				return
			}
			abs := d.url.ResolveReference(ref)
			if abs.Scheme != "http" && abs.Scheme != "https" {
				return
			}
			abs.Fragment = ""
			key := abs.String()
			if _, dup := seen[key]; !dup {
				seen[key] = struct{}{}
				out = append(out, key)
			}
			return
		}
	})
	return out
}
