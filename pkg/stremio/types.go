package stremio

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Manifest represents a Stremio addon manifest
type Manifest struct {
	ID          string        `json:"id"`
	Version     string        `json:"version"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Types       []string      `json:"types"`
	IDPrefixes  []string      `json:"idPrefixes"`
	Catalogs    []CatalogItem `json:"catalogs"`
	Resources   []any         `json:"resources"`
}

// CatalogItem represents a Stremio manifest catalog item
type CatalogItem struct {
	ID    string      `json:"id"`
	Type  string      `json:"type"`
	Name  string      `json:"name,omitempty"`
	Extra []ExtraItem `json:"extra,omitempty"`
}

// ExtraItem represents an extra query parameter supported by a catalog, e.g. search.
type ExtraItem struct {
	Name       string   `json:"name"`
	IsRequired bool     `json:"isRequired,omitempty"`
	Options    []string `json:"options,omitempty"`
}

// SupportsExtra reports whether the catalog declares the named extra parameter.
func (c CatalogItem) SupportsExtra(name string) bool {
	for _, extra := range c.Extra {
		if extra.Name == name {
			return true
		}
	}
	return false
}

// MetaPreview represents a Stremio meta preview as returned by catalog responses
type MetaPreview struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Name        string     `json:"name"`
	Poster      string     `json:"poster,omitempty"`
	Background  string     `json:"background,omitempty"`
	Description string     `json:"description,omitempty"`
	Year        FlexString `json:"year,omitempty"`
	ReleaseInfo string     `json:"releaseInfo,omitempty"`
	Genre       []string   `json:"genre,omitempty"`
	Genres      []string   `json:"genres,omitempty"`
	IMDBRating  FlexString `json:"imdbRating,omitempty"`
}

// GenreList returns the genre list, preferring "genre" over the standard "genres" field.
func (m MetaPreview) GenreList() []string {
	if len(m.Genre) > 0 {
		return m.Genre
	}
	return m.Genres
}

// YearLabel returns the year, falling back to releaseInfo.
func (m MetaPreview) YearLabel() string {
	if m.Year != "" {
		return string(m.Year)
	}
	return m.ReleaseInfo
}

// Stream represents a Stremio stream
type Stream struct {
	URL   string `json:"url"`
	Name  string `json:"name,omitempty"`
	Title string `json:"title,omitempty"`
}

// CatalogResponse is the body of a catalog endpoint response
type CatalogResponse struct {
	Metas []MetaPreview `json:"metas"`
}

// StreamsResponse is the body of a stream endpoint response
type StreamsResponse struct {
	Streams []Stream `json:"streams"`
}

// FlexString is a string that also accepts JSON numbers, addons are not consistent about
// fields like year or imdbRating.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}
