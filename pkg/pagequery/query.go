package pagequery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"galleryscraper/pkg/browser"
	"galleryscraper/pkg/capture"
	"galleryscraper/pkg/models"
	"galleryscraper/pkg/normalize"
)

// Query extracts raw metadata fragments for one item from a live session
type Query interface {
	Extract(ctx context.Context, session browser.Session, link models.DiscoveredLink) (normalize.Raw, error)
}

// ErrErrorPage is returned by Extract when the document is an error or
// block page rather than item content
var ErrErrorPage = errors.New("error page content detected")

// Chain runs strategies in order and concatenates their fragments so that
// earlier strategies take precedence in the normalizer.
type Chain struct {
	strategies []Strategy
}

// NewChain creates a chain over strategies
func NewChain(strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies}
}

// DefaultChain returns the built-in strategies in priority order
func DefaultChain() *Chain {
	return NewChain(DefinitionPairs, InlinePairs, Headings, Captions, Media, ScriptJSON)
}

// Extract reads the session's document and parses it
func (c *Chain) Extract(ctx context.Context, session browser.Session, link models.DiscoveredLink) (normalize.Raw, error) {
	html, err := browser.HTML(ctx, session)
	if err != nil {
		return normalize.Raw{}, fmt.Errorf("read page html: %w", err)
	}
	if LooksLikeErrorPage(html) {
		return normalize.Raw{}, ErrErrorPage
	}
	raw, err := c.Parse(html)
	if err != nil {
		return normalize.Raw{}, err
	}
	raw.ItemID = link.ItemID
	raw.SourceURL = link.CanonicalURL
	return raw, nil
}

// Parse applies every strategy to html
func (c *Chain) Parse(html string) (normalize.Raw, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return normalize.Raw{}, fmt.Errorf("parse html: %w", err)
	}

	var raw normalize.Raw
	for _, s := range c.strategies {
		combine(&raw, s.Apply(doc))
	}
	return raw, nil
}

func combine(dst *normalize.Raw, src normalize.Raw) {
	dst.Pairs = append(dst.Pairs, src.Pairs...)
	dst.Titles = append(dst.Titles, src.Titles...)
	dst.Captions = append(dst.Captions, src.Captions...)
	dst.Tags = append(dst.Tags, src.Tags...)
	if dst.ThumbnailURL == "" {
		dst.ThumbnailURL = src.ThumbnailURL
	}
	switch {
	case dst.SideChannel == nil:
		dst.SideChannel = src.SideChannel
	case src.SideChannel != nil:
		dst.SideChannel.Merge(src.SideChannel)
	}
}

var errorPageMarkers = []string{
	"404 not found", "page not found", "access denied", "403 forbidden",
	"temporarily unavailable", "too many requests", "are you a robot",
	"verify you are human", "internal server error",
}

// LooksLikeErrorPage reports whether html is an error or block page
func LooksLikeErrorPage(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	heading := strings.ToLower(doc.Find("title").First().Text() + " " + doc.Find("h1").First().Text())
	for _, marker := range errorPageMarkers {
		if strings.Contains(heading, marker) {
			return true
		}
	}
	return false
}

// LinkCollector extracts item links from a gallery page
type LinkCollector struct {
	itemSelector string
	pattern      *regexp.Regexp
}

// NewLinkCollector matches elements by itemSelector and takes the item id
// from linkPattern's "id" group.
func NewLinkCollector(itemSelector, linkPattern string) (*LinkCollector, error) {
	re, err := regexp.Compile(linkPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid link pattern: %w", err)
	}
	return &LinkCollector{itemSelector: itemSelector, pattern: re}, nil
}

// Collect reads the session's current document
func (c *LinkCollector) Collect(ctx context.Context, session browser.Session) ([]models.DiscoveredLink, error) {
	html, err := browser.HTML(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("read page html: %w", err)
	}
	pageURL, err := browser.CurrentURL(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("read page url: %w", err)
	}
	return c.Parse(html, pageURL)
}

// Parse returns the links in html, resolved against pageURL
func (c *LinkCollector) Parse(html, pageURL string) ([]models.DiscoveredLink, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	collection := CollectionHash(base)

	var links []models.DiscoveredLink
	doc.Find(c.itemSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			href, ok = s.Find("a[href]").First().Attr("href")
		}
		if !ok || strings.TrimSpace(href) == "" {
			return
		}

		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		resolved.Fragment = ""

		id := capture.ExtractID(c.pattern, resolved.Path)
		if id == "" {
			id = capture.ExtractID(c.pattern, resolved.String())
		}
		if id == "" {
			return
		}
		resolved.RawQuery = ""
		links = append(links, models.DiscoveredLink{
			ItemID:         id,
			CanonicalURL:   resolved.String(),
			CollectionHash: collection,
		})
	})
	return links, nil
}

// CollectionHash identifies the gallery a link was found in by host and path
func CollectionHash(u *url.URL) string {
	h := sha256.Sum256([]byte(strings.ToLower(u.Host) + u.Path))
	return hex.EncodeToString(h[:8])
}
