package pagequery

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"galleryscraper/pkg/capture"
	"galleryscraper/pkg/normalize"
)

// Strategy extracts one kind of fragment from a parsed page. A strategy that
// finds nothing returns a zero Result.
type Strategy interface {
	Name() string
	Apply(doc *goquery.Document) normalize.Raw
}

// StrategyFunc adapts a function to Strategy
type StrategyFunc struct {
	Label string
	Fn    func(doc *goquery.Document) normalize.Raw
}

func (s StrategyFunc) Name() string                              { return s.Label }
func (s StrategyFunc) Apply(doc *goquery.Document) normalize.Raw { return s.Fn(doc) }

var inlinePair = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z /&]{1,30}?)\s*:\s*(.+?)\s*$`)

// DefinitionPairs reads dt/dd lists, two-column table rows and
// label/value class pairs.
var DefinitionPairs = StrategyFunc{Label: "definition-pairs", Fn: func(doc *goquery.Document) normalize.Raw {
	var raw normalize.Raw

	doc.Find("dl").Each(func(_ int, dl *goquery.Selection) {
		dl.Find("dt").Each(func(_ int, dt *goquery.Selection) {
			dd := dt.NextFiltered("dd")
			if dd.Length() == 0 {
				return
			}
			raw.Pairs = appendPair(raw.Pairs, dt.Text(), dd.Text())
		})
	})

	doc.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Children().Filter("th, td")
		if cells.Length() != 2 {
			return
		}
		raw.Pairs = appendPair(raw.Pairs, cells.Eq(0).Text(), cells.Eq(1).Text())
	})

	doc.Find(`[class*="label"]`).Each(func(_ int, label *goquery.Selection) {
		value := label.NextFiltered(`[class*="value"]`)
		if value.Length() == 0 {
			return
		}
		raw.Pairs = appendPair(raw.Pairs, label.Text(), value.Text())
	})

	return raw
}}

// InlinePairs reads "Label: value" lines inside metadata containers
var InlinePairs = StrategyFunc{Label: "inline-pairs", Fn: func(doc *goquery.Document) normalize.Raw {
	var raw normalize.Raw
	containers := `[class*="meta"] li, [class*="meta"] p, [class*="detail"] li, [class*="detail"] p, [class*="info"] li, [class*="info"] p`
	doc.Find(containers).Each(func(_ int, s *goquery.Selection) {
		if m := inlinePair.FindStringSubmatch(strings.TrimSpace(s.Text())); m != nil {
			raw.Pairs = appendPair(raw.Pairs, m[1], m[2])
		}
	})
	return raw
}}

// Headings collects title candidates from headings and title metadata
var Headings = StrategyFunc{Label: "headings", Fn: func(doc *goquery.Document) normalize.Raw {
	var raw normalize.Raw
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			raw.Titles = append(raw.Titles, s)
		}
	}

	add(doc.Find("h1").First().Text())
	add(doc.Find(`[itemprop="headline"], [class*="title"]`).First().Text())
	add(metaContent(doc, `meta[property="og:title"]`))
	add(metaContent(doc, `meta[name="twitter:title"]`))
	return raw
}}

// Captions collects caption candidates, keeping line breaks as markup
var Captions = StrategyFunc{Label: "captions", Fn: func(doc *goquery.Document) normalize.Raw {
	var raw normalize.Raw
	doc.Find(`figcaption, [itemprop="caption"], [class*="caption"], [itemprop="description"]`).Each(func(_ int, s *goquery.Selection) {
		if html, err := s.Html(); err == nil && strings.TrimSpace(html) != "" {
			raw.Captions = append(raw.Captions, html)
		}
	})
	for _, sel := range []string{`meta[name="description"]`, `meta[property="og:description"]`} {
		if v := metaContent(doc, sel); v != "" {
			raw.Captions = append(raw.Captions, v)
		}
	}
	return raw
}}

// Media collects the thumbnail and tags
var Media = StrategyFunc{Label: "media", Fn: func(doc *goquery.Document) normalize.Raw {
	var raw normalize.Raw

	raw.ThumbnailURL = metaContent(doc, `meta[property="og:image"]`)
	if raw.ThumbnailURL == "" {
		raw.ThumbnailURL, _ = doc.Find(`link[rel="image_src"]`).Attr("href")
	}

	if keywords := metaContent(doc, `meta[name="keywords"]`); keywords != "" {
		raw.Tags = append(raw.Tags, strings.Split(keywords, ",")...)
	}
	doc.Find(`a[rel="tag"], [class*="tags"] a, [class*="keyword"] a`).Each(func(_ int, s *goquery.Selection) {
		if tag := strings.TrimSpace(s.Text()); tag != "" {
			raw.Tags = append(raw.Tags, tag)
		}
	})
	return raw
}}

// ScriptJSON decodes metadata blobs embedded in page scripts
var ScriptJSON = StrategyFunc{Label: "script-json", Fn: func(doc *goquery.Document) normalize.Raw {
	var raw normalize.Raw
	doc.Find(`script[type="application/ld+json"], script[type="application/json"], script#__NEXT_DATA__`).Each(func(_ int, s *goquery.Selection) {
		sc := findSideChannel([]byte(s.Text()), 0)
		if sc == nil {
			return
		}
		if raw.SideChannel == nil {
			raw.SideChannel = sc
			return
		}
		raw.SideChannel.Merge(sc)
	})
	return raw
}}

const maxJSONDepth = 6

// findSideChannel returns the first object, searching breadth-first, that
// decodes into non-empty metadata.
func findSideChannel(body []byte, depth int) *capture.SideChannel {
	if depth > maxJSONDepth {
		return nil
	}
	if sc, err := capture.DecodeSideChannel(body); err == nil && !sc.Empty() {
		return sc
	}

	var children []json.RawMessage
	var obj map[string]json.RawMessage
	var list []json.RawMessage
	switch {
	case json.Unmarshal(body, &obj) == nil:
		for _, v := range obj {
			children = append(children, v)
		}
	case json.Unmarshal(body, &list) == nil:
		children = list
	default:
		return nil
	}

	for _, child := range children {
		if sc := findSideChannel(child, depth+1); sc != nil {
			return sc
		}
	}
	return nil
}

func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(v)
}

func appendPair(pairs []normalize.LabelValue, label, value string) []normalize.LabelValue {
	label = strings.TrimSpace(label)
	value = strings.TrimSpace(value)
	if label == "" || value == "" {
		return pairs
	}
	return append(pairs, normalize.LabelValue{Label: label, Value: value})
}
