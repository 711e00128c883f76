package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"

	"github.com/mizutome/ragbench/helper"
)

// Metadata keys recognized by the search filters.
const (
	MetadataKeyCategory = "category"
	MetadataKeyLanguage = "lang"
)

// DefaultCategory is assigned to documents ingested without a category.
const DefaultCategory = "未分類"

// Metadata represents JSONB metadata stored in PostgreSQL
type Metadata map[string]interface{}

// NewMetadata builds metadata carrying the two filterable keys.
// An empty category falls back to DefaultCategory.
func NewMetadata(category string, language string) Metadata {
	if category == "" {
		category = DefaultCategory
	}
	m := Metadata{MetadataKeyCategory: category}
	if language != "" {
		m[MetadataKeyLanguage] = language
	}
	return m
}

// Category returns the category tag, or DefaultCategory if unset.
func (m Metadata) Category() string {
	if v, ok := m[MetadataKeyCategory].(string); ok && v != "" {
		return v
	}
	return DefaultCategory
}

// Language returns the language tag, or an empty string if unset.
func (m Metadata) Language() string {
	if v, ok := m[MetadataKeyLanguage].(string); ok {
		return v
	}
	return ""
}

// Value implements the driver.Valuer interface for database storage
func (m Metadata) Value() (driver.Value, error) {
	return m.Marshal()
}

// Scan implements the sql.Scanner interface for database retrieval
func (m *Metadata) Scan(value interface{}) error {
	return m.Unmarshal(value)
}

// Marshal converts Metadata to JSON bytes
func (m Metadata) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal converts JSON bytes or Metadata to Metadata
func (m *Metadata) Unmarshal(value interface{}) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}

	if s, ok := value.(Metadata); ok {
		*m = Metadata(s)
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return helper.NewError("byte assertion", errors.New("type assertion to []byte failed"))
	}

	return json.Unmarshal(b, m)
}
