package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinkSetUpsert(t *testing.T) {
	set := NewLinkSet()

	assert.True(t, set.Upsert(DiscoveredLink{ItemID: "a", CanonicalURL: "https://g/a"}))
	assert.True(t, set.Upsert(DiscoveredLink{ItemID: "b", CanonicalURL: "https://g/b"}))
	assert.False(t, set.Upsert(DiscoveredLink{ItemID: "a", CanonicalURL: "https://g/a?v=2", CollectionHash: "h"}))
	assert.False(t, set.Upsert(DiscoveredLink{CanonicalURL: "https://g/none"}))

	assert.Equal(t, 2, set.Len())
	links := set.Links()
	assert.Equal(t, "a", links[0].ItemID)
	assert.Equal(t, "https://g/a?v=2", links[0].CanonicalURL)
	assert.Equal(t, "b", links[1].ItemID)
}

func TestLinkSetMergeRepeatedDiscovery(t *testing.T) {
	set := NewLinkSet()
	batch := []DiscoveredLink{{ItemID: "1"}, {ItemID: "2"}, {ItemID: "3"}}

	assert.Equal(t, 3, set.Merge(batch))
	assert.Equal(t, 0, set.Merge(batch))
	assert.Equal(t, 1, set.Merge([]DiscoveredLink{{ItemID: "2"}, {ItemID: "4"}}))

	seen := map[string]bool{}
	for _, l := range set.Links() {
		assert.False(t, seen[l.ItemID], "duplicate %s", l.ItemID)
		seen[l.ItemID] = true
	}
	assert.Len(t, seen, 4)
}

func TestExtractionRecordHasContent(t *testing.T) {
	meaningful := []string{"title", "photographer", "caption"}

	partial := PartialRecord(DiscoveredLink{ItemID: "x", CanonicalURL: "https://g/x"})
	assert.False(t, partial.HasContent(meaningful))
	assert.Equal(t, "x", partial.ItemID)
	assert.Equal(t, "https://g/x", partial.SourceURL)

	partial.City = "London"
	assert.False(t, partial.HasContent(meaningful))

	partial.Photographer = "Jane Doe"
	assert.True(t, partial.HasContent(meaningful))

	var nilRecord *ExtractionRecord
	assert.False(t, nilRecord.HasContent(meaningful))
}

func TestJobPhaseTerminal(t *testing.T) {
	assert.True(t, PhaseCompleted.Terminal())
	assert.True(t, PhaseFailed.Terminal())
	assert.False(t, PhaseRetrying.Terminal())
}

func TestIsPartial(t *testing.T) {
	partial := PartialRecord(DiscoveredLink{ItemID: "9", CanonicalURL: "https://g.example/item/9"})
	assert.True(t, partial.IsPartial())

	tagged := *partial
	tagged.Tags = []string{"portrait"}
	assert.False(t, tagged.IsPartial())

	sized := *partial
	sized.FileSize = "2 MB"
	assert.False(t, sized.IsPartial())

	var none *ExtractionRecord
	assert.True(t, none.IsPartial())
}
