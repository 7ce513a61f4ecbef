package capture

import (
	"encoding/json"
	"strconv"
	"strings"
)

// SideChannel is item metadata recovered from a JSON payload outside the
// rendered page. Unrecognized keys are ignored; each field accepts several
// common key spellings.
type SideChannel struct {
	ID             string   `json:"id,omitempty"`
	Title          string   `json:"title,omitempty"`
	Caption        string   `json:"caption,omitempty"`
	Photographer   string   `json:"photographer,omitempty"`
	Authors        string   `json:"authors,omitempty"`
	Copyright      string   `json:"copyright,omitempty"`
	DateTaken      string   `json:"date_taken,omitempty"`
	City           string   `json:"city,omitempty"`
	Country        string   `json:"country,omitempty"`
	Location       string   `json:"location,omitempty"`
	Featuring      string   `json:"featuring,omitempty"`
	ContentPartner string   `json:"content_partner,omitempty"`
	ThumbnailURL   string   `json:"thumbnail_url,omitempty"`
	ImageSize      string   `json:"image_size,omitempty"`
	FileSize       string   `json:"file_size,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

var fieldAliases = map[string][]string{
	"id":              {"id", "itemId", "item_id", "assetId", "asset_id", "imageId", "image_id"},
	"title":           {"title", "headline", "name"},
	"caption":         {"caption", "description", "summary"},
	"photographer":    {"photographer", "photographerName", "byline", "creator"},
	"authors":         {"authors", "author", "artist"},
	"copyright":       {"copyright", "copyrightNotice", "credit", "creditLine"},
	"date_taken":      {"dateTaken", "date_taken", "dateCreated", "date_created", "takenAt", "date"},
	"city":            {"city"},
	"country":         {"country", "countryName"},
	"location":        {"location", "contentLocation", "place"},
	"featuring":       {"featuring", "people", "personInImage"},
	"content_partner": {"contentPartner", "content_partner", "partner", "provider", "agency", "source"},
	"thumbnail_url":   {"thumbnailUrl", "thumbnail_url", "thumbnail", "previewUrl", "image"},
	"image_size":      {"imageSize", "image_size", "dimensions", "resolution"},
	"file_size":       {"fileSize", "file_size", "contentSize"},
	"tags":            {"tags", "keywords", "subjects"},
}

var wrapperKeys = []string{"data", "asset", "item", "image", "result", "media"}

// DecodeSideChannel parses a payload, descending into a single common
// wrapper object ("data", "asset" ...) when present.
func DecodeSideChannel(body []byte) (*SideChannel, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, err
	}

	sc := &SideChannel{}
	sc.fill(obj)
	for _, key := range wrapperKeys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var inner map[string]json.RawMessage
		if json.Unmarshal(raw, &inner) == nil {
			sc.fill(inner)
		}
	}
	return sc, nil
}

// UnmarshalJSON accepts any of the known key spellings
func (sc *SideChannel) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeSideChannel(data)
	if err != nil {
		return err
	}
	*sc = *decoded
	return nil
}

// Empty reports whether no field is populated
func (sc *SideChannel) Empty() bool {
	if sc == nil {
		return true
	}
	return sc.Title == "" && sc.Caption == "" && sc.Photographer == "" && sc.Authors == "" &&
		sc.Copyright == "" && sc.DateTaken == "" && sc.City == "" && sc.Country == "" &&
		sc.Location == "" && sc.Featuring == "" && sc.ContentPartner == "" &&
		sc.ThumbnailURL == "" && sc.ImageSize == "" && sc.FileSize == "" && len(sc.Tags) == 0
}

// Merge fills empty fields of sc from other
func (sc *SideChannel) Merge(other *SideChannel) {
	if other == nil {
		return
	}
	fillString(&sc.ID, other.ID)
	fillString(&sc.Title, other.Title)
	fillString(&sc.Caption, other.Caption)
	fillString(&sc.Photographer, other.Photographer)
	fillString(&sc.Authors, other.Authors)
	fillString(&sc.Copyright, other.Copyright)
	fillString(&sc.DateTaken, other.DateTaken)
	fillString(&sc.City, other.City)
	fillString(&sc.Country, other.Country)
	fillString(&sc.Location, other.Location)
	fillString(&sc.Featuring, other.Featuring)
	fillString(&sc.ContentPartner, other.ContentPartner)
	fillString(&sc.ThumbnailURL, other.ThumbnailURL)
	fillString(&sc.ImageSize, other.ImageSize)
	fillString(&sc.FileSize, other.FileSize)
	if len(sc.Tags) == 0 {
		sc.Tags = append([]string(nil), other.Tags...)
	}
}

func (sc *SideChannel) fill(obj map[string]json.RawMessage) {
	targets := map[string]*string{
		"id":              &sc.ID,
		"title":           &sc.Title,
		"caption":         &sc.Caption,
		"photographer":    &sc.Photographer,
		"authors":         &sc.Authors,
		"copyright":       &sc.Copyright,
		"date_taken":      &sc.DateTaken,
		"city":            &sc.City,
		"country":         &sc.Country,
		"location":        &sc.Location,
		"featuring":       &sc.Featuring,
		"content_partner": &sc.ContentPartner,
		"thumbnail_url":   &sc.ThumbnailURL,
		"image_size":      &sc.ImageSize,
		"file_size":       &sc.FileSize,
	}

	for field, dst := range targets {
		if *dst != "" {
			continue
		}
		for _, alias := range fieldAliases[field] {
			if v := scalar(obj[alias]); v != "" {
				*dst = v
				break
			}
		}
	}

	if len(sc.Tags) == 0 {
		for _, alias := range fieldAliases["tags"] {
			if tags := stringList(obj[alias]); len(tags) > 0 {
				sc.Tags = tags
				break
			}
		}
	}
}

// scalar renders a string, number or {"name": ...} object as text
func scalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return strconv.FormatBool(b)
	}
	var named struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(raw, &named) == nil {
		return strings.TrimSpace(named.Name)
	}
	var list []json.RawMessage
	if json.Unmarshal(raw, &list) == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if v := scalar(item); v != "" {
				parts = append(parts, v)
			}
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

// stringList accepts an array of scalars or a comma separated string
func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var list []json.RawMessage
	if json.Unmarshal(raw, &list) == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if v := scalar(item); v != "" {
				out = append(out, v)
			}
		}
		return out
	}

	var out []string
	for _, part := range strings.Split(scalar(raw), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func fillString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
