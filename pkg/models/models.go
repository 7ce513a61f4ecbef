package models

import (
	"strings"
	"sync"
	"time"
)

// DiscoveredLink is one gallery item found during discovery
type DiscoveredLink struct {
	ItemID         string `json:"item_id"`
	CanonicalURL   string `json:"canonical_url"`
	CollectionHash string `json:"collection_hash,omitempty"`
}

// LinkSet is a set of DiscoveredLinks keyed by item id. Re-discovering an id
// replaces the stored link but keeps its original position.
type LinkSet struct {
	mu    sync.RWMutex
	order []string
	links map[string]DiscoveredLink
}

// NewLinkSet creates an empty LinkSet
func NewLinkSet() *LinkSet {
	return &LinkSet{links: make(map[string]DiscoveredLink)}
}

// Upsert stores link and reports whether its id was new
func (s *LinkSet) Upsert(link DiscoveredLink) bool {
	if link.ItemID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.links[link.ItemID]
	if !exists {
		s.order = append(s.order, link.ItemID)
	}
	s.links[link.ItemID] = link
	return !exists
}

// Merge upserts every link and returns how many ids were new
func (s *LinkSet) Merge(links []DiscoveredLink) int {
	added := 0
	for _, link := range links {
		if s.Upsert(link) {
			added++
		}
	}
	return added
}

// Get returns the link stored for id
func (s *LinkSet) Get(id string) (DiscoveredLink, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.links[id]
	return link, ok
}

// Len returns the number of distinct item ids
func (s *LinkSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.links)
}

// Links returns the links in first-discovery order
func (s *LinkSet) Links() []DiscoveredLink {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DiscoveredLink, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.links[id])
	}
	return out
}

// ExtractionRecord holds the metadata extracted for one item. Empty string
// fields are absent, not known-empty.
type ExtractionRecord struct {
	ItemID         string   `json:"item_id"`
	SourceURL      string   `json:"source_url"`
	ThumbnailURL   string   `json:"thumbnail_url,omitempty"`
	Title          string   `json:"title,omitempty"`
	Caption        string   `json:"caption,omitempty"`
	RawCaption     string   `json:"raw_caption,omitempty"`
	Featuring      string   `json:"featuring,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Comments       string   `json:"comments,omitempty"`
	Copyright      string   `json:"copyright,omitempty"`
	DateTaken      string   `json:"date_taken,omitempty"`
	Authors        string   `json:"authors,omitempty"`
	ContentPartner string   `json:"content_partner,omitempty"`
	Photographer   string   `json:"photographer,omitempty"`
	Country        string   `json:"country,omitempty"`
	City           string   `json:"city,omitempty"`
	ImageSize      string   `json:"image_size,omitempty"`
	FileSize       string   `json:"file_size,omitempty"`
}

// PartialRecord returns a record carrying only the link's identifiers
func PartialRecord(link DiscoveredLink) *ExtractionRecord {
	return &ExtractionRecord{ItemID: link.ItemID, SourceURL: link.CanonicalURL}
}

// Field returns a named string field; names follow the json tags
func (r *ExtractionRecord) Field(name string) string {
	switch strings.ToLower(name) {
	case "thumbnail_url":
		return r.ThumbnailURL
	case "title":
		return r.Title
	case "caption":
		return r.Caption
	case "raw_caption":
		return r.RawCaption
	case "featuring":
		return r.Featuring
	case "comments":
		return r.Comments
	case "copyright":
		return r.Copyright
	case "date_taken", "date":
		return r.DateTaken
	case "authors":
		return r.Authors
	case "content_partner":
		return r.ContentPartner
	case "photographer":
		return r.Photographer
	case "country":
		return r.Country
	case "city":
		return r.City
	case "image_size":
		return r.ImageSize
	case "file_size":
		return r.FileSize
	default:
		return ""
	}
}

// HasContent reports whether at least one of the named fields is populated
func (r *ExtractionRecord) HasContent(fields []string) bool {
	if r == nil {
		return false
	}
	for _, f := range fields {
		if r.Field(f) != "" {
			return true
		}
	}
	return false
}

// MetadataFields lists every non-identifier string field by json name
var MetadataFields = []string{
	"thumbnail_url", "title", "caption", "raw_caption", "featuring", "comments",
	"copyright", "date_taken", "authors", "content_partner", "photographer",
	"country", "city", "image_size", "file_size",
}

// IsPartial reports whether the record carries identifiers only
func (r *ExtractionRecord) IsPartial() bool {
	return r == nil || (len(r.Tags) == 0 && !r.HasContent(MetadataFields))
}

// FailureRecord is the live failure entry for one item
type FailureRecord struct {
	ItemID     string    `json:"item_id"`
	URL        string    `json:"url"`
	Reason     string    `json:"reason"`
	Attempts   int       `json:"attempts"`
	Timestamp  time.Time `json:"timestamp_utc"`
	HTTPStatus int       `json:"http_status,omitempty"`
	RetryRound int       `json:"retry_round,omitempty"`
}

// JobPhase is the lifecycle stage of a job run
type JobPhase string

const (
	PhaseInitializing JobPhase = "initializing"
	PhaseDiscovering  JobPhase = "discovering"
	PhaseExtracting   JobPhase = "extracting"
	PhaseRetrying     JobPhase = "retrying"
	PhaseFinalizing   JobPhase = "finalizing"
	PhaseCompleted    JobPhase = "completed"
	PhaseFailed       JobPhase = "failed"
)

// Terminal reports whether no further transitions follow
func (p JobPhase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// JobRunState is the externally visible progress of one job run
type JobRunState struct {
	JobID      string   `json:"job_id"`
	Phase      JobPhase `json:"phase"`
	Discovered int      `json:"discovered"`
	Attempted  int      `json:"attempted"`
	Succeeded  int      `json:"succeeded"`
	Failed     int      `json:"failed"`
	RetryRound int      `json:"retry_round"`
	Error      string   `json:"error,omitempty"`
}
