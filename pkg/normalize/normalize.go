package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"galleryscraper/pkg/capture"
	"galleryscraper/pkg/models"
)

// LabelValue is one explicit label/value pair scraped from a page
type LabelValue struct {
	Label string
	Value string
}

// Raw is the unprocessed output of the page-query strategies for one item
type Raw struct {
	ItemID       string
	SourceURL    string
	Pairs        []LabelValue
	Titles       []string
	Captions     []string
	ThumbnailURL string
	Tags         []string
	SideChannel  *capture.SideChannel
}

// Empty reports whether raw carries nothing beyond identifiers
func (r *Raw) Empty() bool {
	return len(r.Pairs) == 0 && len(r.Titles) == 0 && len(r.Captions) == 0 &&
		r.ThumbnailURL == "" && len(r.Tags) == 0 && r.SideChannel.Empty()
}

type field int

const (
	fieldTitle field = iota
	fieldDescription
	fieldPhotographer
	fieldAuthors
	fieldCopyright
	fieldDate
	fieldCity
	fieldCountry
	fieldLocation
	fieldFeaturing
	fieldComments
	fieldPartner
	fieldImageSize
	fieldFileSize
	fieldTags
)

var labelFields = map[string][]field{
	"credit":          {fieldPhotographer, fieldAuthors, fieldCopyright},
	"credits":         {fieldPhotographer, fieldAuthors, fieldCopyright},
	"photo credit":    {fieldPhotographer, fieldAuthors, fieldCopyright},
	"image credit":    {fieldPhotographer, fieldAuthors, fieldCopyright},
	"photographer":    {fieldPhotographer},
	"photo by":        {fieldPhotographer},
	"photographed by": {fieldPhotographer},
	"author":          {fieldAuthors},
	"authors":         {fieldAuthors},
	"artist":          {fieldAuthors},
	"creator":         {fieldAuthors},
	"copyright":       {fieldCopyright},
	"©":               {fieldCopyright},
	"rights":          {fieldCopyright},
	"date":            {fieldDate},
	"date taken":      {fieldDate},
	"date created":    {fieldDate},
	"taken":           {fieldDate},
	"when":            {fieldDate},
	"city":            {fieldCity},
	"country":         {fieldCountry},
	"location":        {fieldLocation},
	"where":           {fieldLocation},
	"place":           {fieldLocation},
	"featuring":       {fieldFeaturing},
	"people":          {fieldFeaturing},
	"personalities":   {fieldFeaturing},
	"title":           {fieldTitle},
	"headline":        {fieldTitle},
	"caption":         {fieldDescription},
	"description":     {fieldDescription},
	"summary":         {fieldDescription},
	"tags":            {fieldTags},
	"keywords":        {fieldTags},
	"subjects":        {fieldTags},
	"comments":        {fieldComments},
	"comment":         {fieldComments},
	"notes":           {fieldComments},
	"restrictions":    {fieldComments},
	"content partner": {fieldPartner},
	"partner":         {fieldPartner},
	"agency":          {fieldPartner},
	"source":          {fieldPartner},
	"provider":        {fieldPartner},
	"collection":      {fieldPartner},
	"image size":      {fieldImageSize},
	"dimensions":      {fieldImageSize},
	"resolution":      {fieldImageSize},
	"max size":        {fieldImageSize},
	"file size":       {fieldFileSize},
	"filesize":        {fieldFileSize},
}

// captionMarkers are the labels honoured inside freeform caption text
var captionMarkers = map[string]bool{
	"credit": true, "photographer": true, "photo by": true, "photo credit": true,
	"copyright": true, "where": true, "when": true, "featuring": true,
}

var (
	markerLine    = regexp.MustCompile(`^(?i)\s*([a-z][a-z ]{1,20}?)\s*:\s*(.+)$`)
	copyrightSign = regexp.MustCompile(`^\s*(?:©|\(c\))\s*(.+)$`)
	dateLocation  = regexp.MustCompile(`^(.+?)\s+[-–—]\s+(\d{1,2}[./-]\d{1,2}[./-]\d{2,4})\s*$`)

	locationKeywords = []string{
		"street", "st.", "road", "avenue", "boulevard", "square", "stadium", "arena",
		"park", "hall", "centre", "center", "theatre", "theater", "hotel", "airport",
		"university", "church", "cathedral", "palace", "beach", "bridge", "station",
		"harbour", "harbor", "museum", "gallery", "club", "court", "field",
	}
)

type builder struct {
	rec         models.ExtractionRecord
	description string
	tags        []string
	seenTags    map[string]bool
}

func (b *builder) ref(f field) *string {
	switch f {
	case fieldTitle:
		return &b.rec.Title
	case fieldDescription:
		return &b.description
	case fieldPhotographer:
		return &b.rec.Photographer
	case fieldAuthors:
		return &b.rec.Authors
	case fieldCopyright:
		return &b.rec.Copyright
	case fieldDate:
		return &b.rec.DateTaken
	case fieldCity:
		return &b.rec.City
	case fieldCountry:
		return &b.rec.Country
	case fieldFeaturing:
		return &b.rec.Featuring
	case fieldComments:
		return &b.rec.Comments
	case fieldPartner:
		return &b.rec.ContentPartner
	case fieldImageSize:
		return &b.rec.ImageSize
	case fieldFileSize:
		return &b.rec.FileSize
	default:
		return nil
	}
}

// set stores the sanitized value unless f is already populated
func (b *builder) set(f field, value string) {
	switch f {
	case fieldLocation:
		b.setLocation(value)
		return
	case fieldTags:
		b.addTags(strings.Split(value, ","))
		return
	}

	dst := b.ref(f)
	if dst == nil || *dst != "" {
		return
	}
	*dst = Sanitize(value)
}

func (b *builder) setLocation(value string) {
	value = Sanitize(value)
	if value == "" {
		return
	}
	city, country := SplitLocation(value)
	b.set(fieldCity, city)
	b.set(fieldCountry, country)
}

func (b *builder) addTags(tags []string) {
	for _, tag := range tags {
		tag = Sanitize(tag)
		key := strings.ToLower(tag)
		if tag == "" || b.seenTags[key] {
			continue
		}
		b.seenTags[key] = true
		b.tags = append(b.tags, tag)
	}
}

// applyLabel maps a known label onto its fields and reports whether it was known
func (b *builder) applyLabel(label, value string) bool {
	fields, ok := labelFields[normalizeLabel(label)]
	if !ok {
		return false
	}
	for _, f := range fields {
		b.set(f, value)
	}
	return true
}

// Normalize turns raw page output into a record. Sources are applied in
// priority order and a populated field is never overwritten:
// explicit label/value pairs and dedicated title elements, caption markers and
// the date-location line, the caption title heuristic, then the side channel.
// Caption is finally composed from the populated structured fields.
func Normalize(raw Raw) models.ExtractionRecord {
	b := &builder{seenTags: make(map[string]bool)}
	b.rec.ItemID = raw.ItemID
	b.rec.SourceURL = raw.SourceURL

	for _, pair := range raw.Pairs {
		b.applyLabel(pair.Label, pair.Value)
	}
	for _, title := range raw.Titles {
		b.set(fieldTitle, title)
	}
	b.rec.ThumbnailURL = Sanitize(raw.ThumbnailURL)
	b.addTags(raw.Tags)

	for _, caption := range raw.Captions {
		if text := sanitizeBlock(caption); text != "" {
			b.rec.RawCaption = text
			b.parseCaption(text)
			break
		}
	}

	b.applySideChannel(raw.SideChannel)

	b.rec.Tags = b.tags
	b.rec.Caption = b.composeCaption()
	return b.rec
}

func (b *builder) parseCaption(text string) {
	var remaining []string
	for _, line := range strings.Split(text, "\n") {
		if b.consumeMarker(line) {
			continue
		}
		if m := dateLocation.FindStringSubmatch(line); m != nil && PlausibleLocation(m[1]) {
			b.set(fieldDate, m[2])
			b.setLocation(m[1])
			continue
		}
		remaining = append(remaining, line)
	}

	titleIdx := -1
	for i, line := range remaining {
		if isAgencySlug(line) {
			continue
		}
		if b.rec.Title == "" {
			b.set(fieldTitle, line)
		}
		if strings.EqualFold(Sanitize(line), b.rec.Title) {
			titleIdx = i
		}
		break
	}

	var desc []string
	for i, line := range remaining {
		if i == titleIdx || isAgencySlug(line) {
			continue
		}
		desc = append(desc, line)
	}
	if len(desc) > 0 {
		b.set(fieldDescription, strings.Join(desc, " "))
	}
}

// consumeMarker applies a Credit:/Where:/When:/Featuring:/© line
func (b *builder) consumeMarker(line string) bool {
	if m := copyrightSign.FindStringSubmatch(line); m != nil {
		b.set(fieldCopyright, m[1])
		return true
	}
	m := markerLine.FindStringSubmatch(line)
	if m == nil || !captionMarkers[normalizeLabel(m[1])] {
		return false
	}
	return b.applyLabel(m[1], m[2])
}

func (b *builder) applySideChannel(sc *capture.SideChannel) {
	if sc == nil {
		return
	}
	b.set(fieldTitle, sc.Title)
	b.set(fieldDescription, sc.Caption)
	b.set(fieldPhotographer, sc.Photographer)
	b.set(fieldAuthors, sc.Authors)
	b.set(fieldCopyright, sc.Copyright)
	b.set(fieldDate, sc.DateTaken)
	b.set(fieldCity, sc.City)
	b.set(fieldCountry, sc.Country)
	if sc.Location != "" {
		b.setLocation(sc.Location)
	}
	b.set(fieldFeaturing, sc.Featuring)
	b.set(fieldPartner, sc.ContentPartner)
	b.set(fieldImageSize, sc.ImageSize)
	b.set(fieldFileSize, sc.FileSize)
	if b.rec.ThumbnailURL == "" {
		b.rec.ThumbnailURL = Sanitize(sc.ThumbnailURL)
	}
	b.addTags(sc.Tags)
}

// composeCaption builds the display caption from structured fields,
// dropping the description and then trailing segments to stay in bounds.
func (b *builder) composeCaption() string {
	location := joinNonEmpty(", ", b.rec.City, b.rec.Country)
	photo := ""
	if b.rec.Photographer != "" {
		photo = "Photo: " + b.rec.Photographer
	}
	copyright := ""
	if b.rec.Copyright != "" && b.rec.Copyright != b.rec.Photographer {
		copyright = "© " + b.rec.Copyright
	}

	segments := []string{b.rec.Title, b.description, location, b.rec.DateTaken, photo, copyright}
	caption := joinNonEmpty(" | ", segments...)
	if utf8.RuneCountInString(caption) <= MaxValueLength {
		return caption
	}

	segments[1] = ""
	for n := len(segments); n > 0; n-- {
		caption = joinNonEmpty(" | ", segments[:n]...)
		if utf8.RuneCountInString(caption) <= MaxValueLength {
			return caption
		}
	}
	return ""
}

// SplitLocation splits "Venue, City, Country" into city and country. A single
// segment is taken as the city.
func SplitLocation(location string) (city, country string) {
	var parts []string
	for _, p := range strings.Split(location, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[len(parts)-2], parts[len(parts)-1]
	}
}

// PlausibleLocation accepts text containing a comma, a venue keyword, or
// mostly capitalized words.
func PlausibleLocation(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || utf8.RuneCountInString(s) > 80 {
		return false
	}
	if strings.Contains(s, ",") {
		return true
	}

	lower := strings.ToLower(s)
	for _, kw := range locationKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}

	tokens := strings.Fields(s)
	if len(tokens) > 6 {
		return false
	}
	capitalized := 0
	for _, tok := range tokens {
		r, _ := utf8.DecodeRuneInString(tok)
		if unicode.IsUpper(r) {
			capitalized++
		}
	}
	return capitalized*10 >= len(tokens)*6
}

// isAgencySlug matches short all-caps credit lines such as "REUTERS"
func isAgencySlug(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" || utf8.RuneCountInString(line) > 40 || len(strings.Fields(line)) > 4 {
		return false
	}
	hasLetter := false
	for _, r := range line {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			hasLetter = true
		}
	}
	return hasLetter
}

func normalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	label = strings.TrimRight(label, ": ")
	return strings.Join(strings.Fields(label), " ")
}

func joinNonEmpty(sep string, parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
