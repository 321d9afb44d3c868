package types

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindNone},
		{"embedding", fmt.Errorf("embed: %w", ErrEmbeddingUnavailable), KindEmbeddingUnavailable},
		{"generation", ErrGenerationUnavailable, KindGenerationUnavailable},
		{"store", fmt.Errorf("query: %w", ErrStoreUnavailable), KindStoreUnavailable},
		{"invalid", ErrInvalidInput, KindInvalidInput},
		{"dimension", fmt.Errorf("insert: %w", ErrDimensionMismatch), KindInvalidInput},
		{"not found", ErrNotFound, KindNotFound},
		{"timeout", context.DeadlineExceeded, KindTimeout},
		{"embedding wins over timeout", fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, context.DeadlineExceeded), KindEmbeddingUnavailable},
		{"unknown", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestProductValidate(t *testing.T) {
	p := &Product{Name: "", Price: 1}
	if err := p.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty name, got %v", err)
	}
	p = &Product{Name: "Kenya AA", Price: -1}
	if err := p.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for negative price, got %v", err)
	}
	p = &Product{Name: "Kenya AA", Price: 18.5}
	if err := p.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestEmbeddingText(t *testing.T) {
	p := &Product{Name: "Kenya AA", Description: "Bright and juicy", Category: "coffee"}
	want := "Kenya AA: Bright and juicy (Category: coffee)"
	if got := p.EmbeddingText(); got != want {
		t.Errorf("EmbeddingText() = %q, want %q", got, want)
	}
}

func TestIntentMatchAccepted(t *testing.T) {
	m := IntentMatch{Similarity: 0.75, ConfidenceThreshold: 0.75}
	if !m.Accepted() {
		t.Error("similarity equal to threshold should be accepted")
	}
	m.Similarity = 0.7499
	if m.Accepted() {
		t.Error("similarity below threshold should not be accepted")
	}
}
