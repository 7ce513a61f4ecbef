package capture

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"galleryscraper/pkg/logger"
)

func TestDecodeSideChannelAliases(t *testing.T) {
	body := []byte(`{
		"data": {
			"assetId": "A-17",
			"headline": "Cup final",
			"byline": "Jane Doe",
			"dateCreated": "2022-03-05",
			"keywords": "football, final ,",
			"fileSize": 204800,
			"contentLocation": {"name": "Wembley Stadium, London"},
			"somethingElse": {"ignored": true}
		},
		"status": "ok"
	}`)

	sc, err := DecodeSideChannel(body)
	require.NoError(t, err)

	assert.Equal(t, "A-17", sc.ID)
	assert.Equal(t, "Cup final", sc.Title)
	assert.Equal(t, "Jane Doe", sc.Photographer)
	assert.Equal(t, "2022-03-05", sc.DateTaken)
	assert.Equal(t, []string{"football", "final"}, sc.Tags)
	assert.Equal(t, "204800", sc.FileSize)
	assert.Equal(t, "Wembley Stadium, London", sc.Location)
	assert.False(t, sc.Empty())
}

func TestDecodeSideChannelRejectsNonObject(t *testing.T) {
	_, err := DecodeSideChannel([]byte(`[1,2,3]`))
	assert.Error(t, err)
}

func TestCacheObserve(t *testing.T) {
	cache, err := NewCache(`/api/assets/`, `/api/assets/(?P<id>[\w-]+)`, logger.NewNopLogger())
	require.NoError(t, err)

	assert.True(t, cache.Match("https://g.example/api/assets/77"))
	assert.False(t, cache.Match("https://g.example/static/app.js"))

	cache.Observe("https://g.example/api/assets/77", []byte(`{"title":"From URL id"}`))
	cache.Observe("https://g.example/api/assets/78", []byte(`not json`))
	cache.Observe("https://g.example/api/assets/79", []byte(`{"unrelated":1}`))

	got, ok := cache.Get("77")
	require.True(t, ok)
	assert.Equal(t, "From URL id", got.Title)
	assert.Equal(t, 1, cache.Len())

	cache.Observe("https://g.example/api/assets/x", []byte(`{"id":"77","photographer":"Later"}`))
	got, _ = cache.Get("77")
	assert.Equal(t, "From URL id", got.Title)
	assert.Equal(t, "Later", got.Photographer)
}

func TestCacheDisabled(t *testing.T) {
	cache, err := NewCache("", "", nil)
	require.NoError(t, err)
	assert.False(t, cache.Enabled())
	assert.False(t, cache.Match("https://anything"))

	var nilCache *Cache
	_, ok := nilCache.Get("1")
	assert.False(t, ok)
}

func TestNewCacheInvalidPattern(t *testing.T) {
	_, err := NewCache("(", "", nil)
	assert.Error(t, err)
}

func TestExtractID(t *testing.T) {
	named := regexp.MustCompile(`/photos?/(?P<id>\d+)`)
	assert.Equal(t, "42", ExtractID(named, "https://g/photo/42?x=1"))

	positional := regexp.MustCompile(`item-(\w+)`)
	assert.Equal(t, "abc", ExtractID(positional, "/item-abc"))

	assert.Equal(t, "", ExtractID(named, "/nothing"))
	assert.Equal(t, "", ExtractID(nil, "/photo/1"))
}
