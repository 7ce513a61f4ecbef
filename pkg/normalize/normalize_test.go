package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"galleryscraper/pkg/capture"
)

func TestNormalizeCreditAndDateLocation(t *testing.T) {
	rec := Normalize(Raw{
		ItemID:    "42",
		SourceURL: "https://gallery.example/photo/42",
		Captions:  []string{"Credit: Jane Doe/AgencyX\nLondon, UK - 05.03.22"},
	})

	assert.Equal(t, "42", rec.ItemID)
	assert.Equal(t, "Jane Doe/AgencyX", rec.Photographer)
	assert.Equal(t, "London", rec.City)
	assert.Equal(t, "UK", rec.Country)
	assert.Equal(t, "05.03.22", rec.DateTaken)
	assert.Equal(t, "", rec.Title)
	assert.Equal(t, "Credit: Jane Doe/AgencyX\nLondon, UK - 05.03.22", rec.RawCaption)
	assert.Equal(t, "London, UK | 05.03.22 | Photo: Jane Doe/AgencyX", rec.Caption)
}

func TestNormalizeLabelPairsWinOverCaption(t *testing.T) {
	rec := Normalize(Raw{
		Pairs: []LabelValue{
			{Label: "Credit:", Value: "Label Person"},
			{Label: "City", Value: "Paris"},
			{Label: "Keywords", Value: "Street, night, street"},
			{Label: "Unrecognized", Value: "ignored"},
		},
		Captions: []string{"Photographer: Caption Person\nWhere: Berlin, Germany\nFeaturing: The Band"},
	})

	assert.Equal(t, "Label Person", rec.Photographer)
	assert.Equal(t, "Label Person", rec.Authors)
	assert.Equal(t, "Label Person", rec.Copyright)
	assert.Equal(t, "Paris", rec.City)
	assert.Equal(t, "Germany", rec.Country)
	assert.Equal(t, "The Band", rec.Featuring)
	assert.Equal(t, []string{"Street", "night"}, rec.Tags)
}

func TestNormalizeTitleHeuristicSkipsSlugsAndMarkers(t *testing.T) {
	rec := Normalize(Raw{
		Captions: []string{"REUTERS\nWhen: 12.01.2021\nFans celebrate the late winner\nThe crowd stayed for an hour."},
	})

	assert.Equal(t, "Fans celebrate the late winner", rec.Title)
	assert.Equal(t, "12.01.2021", rec.DateTaken)
	assert.Equal(t, "Fans celebrate the late winner | The crowd stayed for an hour. | 12.01.2021", rec.Caption)
}

func TestNormalizeRejectsImplausibleLocationLine(t *testing.T) {
	rec := Normalize(Raw{Captions: []string{"fans were cheering loudly - 05.03.22"}})

	assert.Equal(t, "", rec.DateTaken)
	assert.Equal(t, "", rec.City)
	assert.Equal(t, "fans were cheering loudly - 05.03.22", rec.Title)
}

func TestNormalizeVenueKeywordLocation(t *testing.T) {
	rec := Normalize(Raw{Captions: []string{"Opening night\nthe old town hall - 1.2.2020"}})

	assert.Equal(t, "Opening night", rec.Title)
	assert.Equal(t, "the old town hall", rec.City)
	assert.Equal(t, "1.2.2020", rec.DateTaken)
}

func TestNormalizeSideChannelFillsGapsOnly(t *testing.T) {
	rec := Normalize(Raw{
		Titles: []string{"<h1>Page Title</h1>"},
		SideChannel: &capture.SideChannel{
			Title:          "JSON Title",
			Photographer:   "JSON Photographer",
			Location:       "Camp Nou, Barcelona, Spain",
			ContentPartner: "AgencyX",
			ThumbnailURL:   "https://cdn.example/t.jpg",
			Tags:           []string{"football"},
		},
	})

	assert.Equal(t, "Page Title", rec.Title)
	assert.Equal(t, "JSON Photographer", rec.Photographer)
	assert.Equal(t, "Barcelona", rec.City)
	assert.Equal(t, "Spain", rec.Country)
	assert.Equal(t, "AgencyX", rec.ContentPartner)
	assert.Equal(t, "https://cdn.example/t.jpg", rec.ThumbnailURL)
	assert.Equal(t, []string{"football"}, rec.Tags)
}

func TestNormalizeEmptyRawIsPartial(t *testing.T) {
	raw := Raw{ItemID: "9", SourceURL: "https://g/9"}
	assert.True(t, raw.Empty())

	rec := Normalize(raw)
	assert.Equal(t, "9", rec.ItemID)
	assert.False(t, rec.HasContent([]string{"title", "photographer", "caption"}))
	assert.Empty(t, rec.Caption)
	assert.Nil(t, rec.Tags)
}

func TestComposeCaptionStaysBounded(t *testing.T) {
	long := strings.Repeat("word ", 39)
	rec := Normalize(Raw{
		Titles:   []string{"Short title"},
		Captions: []string{"Short title\n" + long},
		Pairs:    []LabelValue{{Label: "Photographer", Value: "Jane Doe"}},
	})

	assert.LessOrEqual(t, len([]rune(rec.Caption)), MaxValueLength)
	assert.Equal(t, "Short title | Photo: Jane Doe", rec.Caption)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  Jane   Doe ", "Jane Doe"},
		{"markup", "<b>Jane</b>&nbsp;Doe", "Jane Doe"},
		{"entities", "Tom &amp; Jerry", "Tom & Jerry"},
		{"empty", "   ", ""},
		{"script", "<script>alert(1)</script>", ""},
		{"injection", "javascript:alert(1)", ""},
		{"template", "{{ title }}", ""},
		{"ui string", "Click to enlarge", ""},
		{"placeholder", "undefined", ""},
		{"too long", strings.Repeat("a", MaxValueLength+1), ""},
		{"max length", strings.Repeat("a", MaxValueLength), strings.Repeat("a", MaxValueLength)},
		{"three lines", "a<br>b<br>c", "a b c"},
		{"four lines", "a\nb\nc\nd", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSplitLocation(t *testing.T) {
	city, country := SplitLocation("London, UK")
	assert.Equal(t, "London", city)
	assert.Equal(t, "UK", country)

	city, country = SplitLocation("Wembley Stadium, London, UK")
	assert.Equal(t, "London", city)
	assert.Equal(t, "UK", country)

	city, country = SplitLocation("Reykjavik")
	assert.Equal(t, "Reykjavik", city)
	assert.Equal(t, "", country)
}

func TestPlausibleLocation(t *testing.T) {
	assert.True(t, PlausibleLocation("London, UK"))
	assert.True(t, PlausibleLocation("Old Trafford"))
	assert.True(t, PlausibleLocation("the main stadium"))
	assert.False(t, PlausibleLocation("they were very happy"))
	assert.False(t, PlausibleLocation(""))
}
