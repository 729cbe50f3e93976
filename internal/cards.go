package internal

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/ogero/stremio-webstream/pkg/stremio"
)

const (
	descriptionMaxLength = 100
	defaultDescription   = "Click to play this content"
	eagerImages          = 6
	placeholderImageURL  = "https://via.placeholder.com/300x200/2a5298/ffffff?text="
)

// Card is the view model of a content grid item.
type Card struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Image       string `json:"image"`
	Description string `json:"description"`
	MetaLine    string `json:"metaLine,omitempty"`
	Loading     string `json:"loading"`
	AriaLabel   string `json:"ariaLabel"`
}

// NewCards builds the grid cards of metas, keeping their order.
func NewCards(metas []stremio.MetaPreview) []Card {
	cards := make([]Card, 0, len(metas))
	for i, meta := range metas {
		cards = append(cards, NewCard(meta, i))
	}
	return cards
}

// NewCard builds the card of meta at position index of the grid.
func NewCard(meta stremio.MetaPreview, index int) Card {
	loading := "lazy"
	if index < eagerImages {
		loading = "eager"
	}

	return Card{
		ID:          meta.ID,
		Type:        meta.Type,
		Name:        meta.Name,
		Image:       cardImage(meta),
		Description: cardDescription(meta.Description),
		MetaLine:    cardMetaLine(meta),
		Loading:     loading,
		AriaLabel:   "Play " + meta.Name,
	}
}

func cardImage(meta stremio.MetaPreview) string {
	if meta.Poster != "" {
		return meta.Poster
	}
	if meta.Background != "" {
		return meta.Background
	}
	return placeholderImageURL + url.PathEscape(meta.Name)
}

func cardDescription(description string) string {
	if description == "" {
		return defaultDescription
	}
	if utf8.RuneCountInString(description) <= descriptionMaxLength {
		return description
	}
	runes := []rune(description)
	return strings.TrimSpace(string(runes[:descriptionMaxLength])) + "..."
}

func cardMetaLine(meta stremio.MetaPreview) string {
	parts := make([]string, 0, 3)
	if year := meta.YearLabel(); year != "" {
		parts = append(parts, "📅 "+year)
	}
	if genres := meta.GenreList(); len(genres) > 0 {
		parts = append(parts, "🎭 "+strings.Join(genres[:min(2, len(genres))], ", "))
	}
	if meta.IMDBRating != "" {
		parts = append(parts, "⭐ "+string(meta.IMDBRating))
	}
	return strings.Join(parts, " | ")
}
