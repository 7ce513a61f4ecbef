package capture

import (
	"fmt"
	"regexp"
	"sync"

	"galleryscraper/pkg/logger"
)

// Cache maps item ids to side-channel payloads intercepted from network
// responses. It implements browser.ResponseObserver.
type Cache struct {
	endpoint *regexp.Regexp
	itemID   *regexp.Regexp
	logger   logger.Logger

	mu      sync.RWMutex
	entries map[string]*SideChannel
}

// NewCache creates a cache observing responses whose URL matches
// endpointPattern. itemIDPattern recovers the id from the URL when the
// payload carries none; its "id" group or first group is used.
func NewCache(endpointPattern, itemIDPattern string, log logger.Logger) (*Cache, error) {
	c := &Cache{
		logger:  logger.OrDefault(log),
		entries: make(map[string]*SideChannel),
	}

	if endpointPattern != "" {
		re, err := regexp.Compile(endpointPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid capture endpoint pattern: %w", err)
		}
		c.endpoint = re
	}
	if itemIDPattern != "" {
		re, err := regexp.Compile(itemIDPattern)
		if err != nil {
			return nil, fmt.Errorf("invalid item id pattern: %w", err)
		}
		c.itemID = re
	}
	return c, nil
}

// Enabled reports whether an endpoint pattern is configured
func (c *Cache) Enabled() bool {
	return c != nil && c.endpoint != nil
}

// Match reports whether url is a metadata endpoint
func (c *Cache) Match(url string) bool {
	return c.Enabled() && c.endpoint.MatchString(url)
}

// Observe decodes body and stores it under its item id. Undecodable or
// unidentifiable payloads are dropped.
func (c *Cache) Observe(url string, body []byte) {
	sc, err := DecodeSideChannel(body)
	if err != nil {
		c.logger.DebugWithFields("discarding undecodable capture", map[string]interface{}{
			"url":   url,
			"error": err.Error(),
		})
		return
	}

	id := sc.ID
	if id == "" {
		id = ExtractID(c.itemID, url)
	}
	if id == "" || sc.Empty() {
		return
	}
	c.Put(id, sc)
}

// Put stores sc for id, filling gaps of any earlier payload for the same id
func (c *Cache) Put(id string, sc *SideChannel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[id]; ok {
		sc.Merge(existing)
	}
	c.entries[id] = sc
}

// Get returns a copy of the payload for id
func (c *Cache) Get(id string) (*SideChannel, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	sc, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	cp := *sc
	cp.Tags = append([]string(nil), sc.Tags...)
	return &cp, true
}

// Len returns the number of cached items
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ExtractID applies re to s and returns its "id" group, else its first group
func ExtractID(re *regexp.Regexp, s string) string {
	if re == nil {
		return ""
	}
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	if idx := re.SubexpIndex("id"); idx > 0 && idx < len(m) && m[idx] != "" {
		return m[idx]
	}
	if len(m) > 1 {
		return m[1]
	}
	return ""
}
