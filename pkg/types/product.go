package types

import (
	"errors"
	"time"
)

// Product is a catalog row eligible for retrieval.
type Product struct {
	ID          int64          `json:"id" yaml:"id,omitempty"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	Price       float64        `json:"price" yaml:"price"`
	Category    string         `json:"category" yaml:"category"`
	SKU         string         `json:"sku,omitempty" yaml:"sku,omitempty"`
	InStock     bool           `json:"in_stock" yaml:"in_stock"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Vector      []float32      `json:"-" yaml:"-"` // nil until embedded
	CreatedAt   time.Time      `json:"-" yaml:"-"`
	UpdatedAt   time.Time      `json:"-" yaml:"-"`
}

// Validate checks the product fields required for storage.
func (p *Product) Validate() error {
	if p.Name == "" {
		return errors.Join(ErrInvalidInput, errors.New("product name is required"))
	}
	if p.Price < 0 {
		return errors.Join(ErrInvalidInput, errors.New("product price must be >= 0"))
	}
	return nil
}

// EmbeddingText is the text embedded for a product's vector.
func (p *Product) EmbeddingText() string {
	text := p.Name
	if p.Description != "" {
		text += ": " + p.Description
	}
	if p.Category != "" {
		text += " (Category: " + p.Category + ")"
	}
	return text
}

// Source names the retrieval branch that produced a candidate.
type Source string

const (
	SourceVector Source = "vector"
	SourceText   Source = "text"
)

// RankedCandidate is one fused retrieval result.
type RankedCandidate struct {
	Product Product `json:"product"`
	Source  Source  `json:"source"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"` // 1-based
}

// IntentMatch is one exemplar hit from intent classification.
type IntentMatch struct {
	Intent              string  `json:"intent"`
	Phrase              string  `json:"phrase"`
	Similarity          float64 `json:"similarity"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	UsageCount          int64   `json:"usage_count"`
}

// Accepted reports whether the match clears its exemplar's own threshold.
func (m IntentMatch) Accepted() bool {
	return m.Similarity >= m.ConfidenceThreshold
}
