package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Document is one stored text with its embedding. The embedding is bound to
// exactly one (model, dimension) pair; documents never cross into a space
// with a different dimension. Content is immutable after ingestion, so
// re-embedding means re-inserting under the same id.
type Document struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`
	Metadata  Metadata  `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewDocument creates an unsaved document with category/language metadata.
func NewDocument(content string, category string, language string) *Document {
	return &Document{
		Content:  content,
		Metadata: NewMetadata(category, language),
	}
}

// Category returns the document's category tag, or DefaultCategory.
func (d *Document) Category() string {
	return d.Metadata.Category()
}

// Language returns the document's language tag, or an empty string.
func (d *Document) Language() string {
	return d.Metadata.Language()
}

// Preview returns the first maxRunes runes of the content on a single line,
// with an ellipsis when truncated. Used for logs and debug provenance.
func (d *Document) Preview(maxRunes int) string {
	content := strings.Join(strings.Fields(d.Content), " ")
	if maxRunes <= 0 || utf8.RuneCountInString(content) <= maxRunes {
		return content
	}

	runes := []rune(content)
	return string(runes[:maxRunes]) + "…"
}
