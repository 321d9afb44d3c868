package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/querypipe/internal/storage"
	"github.com/dshills/querypipe/pkg/types"
)

// stubStore returns canned branch results.
type stubStore struct {
	vector, text       []storage.ProductHit
	vectorErr, textErr error
	textCalls          int
}

func (s *stubStore) SearchProductsByVector(context.Context, []float32, float64, int) ([]storage.ProductHit, error) {
	return s.vector, s.vectorErr
}

func (s *stubStore) SearchProductsByText(context.Context, string, int) ([]storage.ProductHit, error) {
	s.textCalls++
	return s.text, s.textErr
}

func hit(id int64, score float64) storage.ProductHit {
	return storage.ProductHit{Product: types.Product{ID: id}, Score: score}
}

type entry struct {
	ID     int64
	Source types.Source
	Score  float64
	Rank   int
}

func summarize(cands []types.RankedCandidate) []entry {
	out := make([]entry, len(cands))
	for i, c := range cands {
		out[i] = entry{ID: c.Product.ID, Source: c.Source, Score: c.Score, Rank: c.Rank}
	}
	return out
}

var query = []float32{1, 0, 0, 0}

func TestSearch_UnionKeepsBothProvenances(t *testing.T) {
	store := &stubStore{
		vector: []storage.ProductHit{hit(1, 0.9)},
		text:   []storage.ProductHit{hit(1, 0.4)},
	}
	r := NewRetriever(store, nil)

	resp, err := r.Search(context.Background(), Request{QueryText: "dark roast", QueryVector: query})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	want := []entry{
		{ID: 1, Source: types.SourceVector, Score: 0.9, Rank: 1},
		{ID: 1, Source: types.SourceText, Score: 0.4, Rank: 2},
	}
	if diff := cmp.Diff(want, summarize(resp.Candidates)); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestSearch_MaxScoreDedup(t *testing.T) {
	store := &stubStore{
		vector: []storage.ProductHit{hit(1, 0.9), hit(2, 0.3)},
		text:   []storage.ProductHit{hit(1, 0.4), hit(2, 0.5)},
	}
	r := NewRetriever(store, nil)

	resp, err := r.Search(context.Background(), Request{QueryText: "dark roast", QueryVector: query, Fusion: FusionMaxScore})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	want := []entry{
		{ID: 1, Source: types.SourceVector, Score: 0.9, Rank: 1},
		{ID: 2, Source: types.SourceText, Score: 0.5, Rank: 2},
	}
	if diff := cmp.Diff(want, summarize(resp.Candidates)); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestSearch_Normalize(t *testing.T) {
	store := &stubStore{
		vector: []storage.ProductHit{hit(1, 0.95), hit(2, 0.85), hit(3, 0.75)},
		text:   []storage.ProductHit{hit(4, 0.2), hit(5, 0.1)},
	}
	r := NewRetriever(store, nil)
	ctx := context.Background()

	raw, err := r.Search(ctx, Request{QueryText: "x", QueryVector: query})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	// Without normalization every vector hit outranks every text hit.
	wantRaw := []int64{1, 2, 3, 4, 5}
	if diff := cmp.Diff(wantRaw, ids(raw.Candidates)); diff != "" {
		t.Errorf("raw order mismatch (-want +got):\n%s", diff)
	}

	norm, err := r.Search(ctx, Request{QueryText: "x", QueryVector: query, Normalize: true})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	want := []entry{
		{ID: 1, Source: types.SourceVector, Score: 1, Rank: 1},
		{ID: 4, Source: types.SourceText, Score: 1, Rank: 2},
		{ID: 2, Source: types.SourceVector, Score: 0.5, Rank: 3},
		{ID: 3, Source: types.SourceVector, Score: 0, Rank: 4},
		{ID: 5, Source: types.SourceText, Score: 0, Rank: 5},
	}
	opt := cmp.Comparer(func(a, b float64) bool { return a-b < 1e-9 && b-a < 1e-9 })
	if diff := cmp.Diff(want, summarize(norm.Candidates), opt); diff != "" {
		t.Errorf("normalized mismatch (-want +got):\n%s", diff)
	}
}

func TestSearch_NormalizeSingleResult(t *testing.T) {
	store := &stubStore{vector: []storage.ProductHit{hit(7, 0.72)}}
	r := NewRetriever(store, nil)

	resp, err := r.Search(context.Background(), Request{QueryVector: query, Normalize: true})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(resp.Candidates) != 1 || resp.Candidates[0].Score != 1 {
		t.Errorf("single result not scaled to 1: %+v", summarize(resp.Candidates))
	}
	if resp.AvgSimilarity == nil || *resp.AvgSimilarity != 0.72 {
		t.Errorf("AvgSimilarity should use raw scores, got %v", resp.AvgSimilarity)
	}
}

func TestSearch_RRF(t *testing.T) {
	store := &stubStore{
		vector: []storage.ProductHit{hit(1, 0.9), hit(2, 0.8)},
		text:   []storage.ProductHit{hit(2, 0.7), hit(3, 0.6)},
	}
	r := NewRetriever(store, nil)

	resp, err := r.Search(context.Background(), Request{QueryText: "x", QueryVector: query, Fusion: FusionRRF})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	want := []entry{
		{ID: 2, Source: types.SourceText, Score: 1.0/62 + 1.0/61, Rank: 1},
		{ID: 1, Source: types.SourceVector, Score: 1.0 / 61, Rank: 2},
		{ID: 3, Source: types.SourceText, Score: 1.0 / 62, Rank: 3},
	}
	opt := cmp.Comparer(func(a, b float64) bool { return a-b < 1e-12 && b-a < 1e-12 })
	if diff := cmp.Diff(want, summarize(resp.Candidates), opt); diff != "" {
		t.Errorf("rrf mismatch (-want +got):\n%s", diff)
	}
}

func TestSearch_TieBreak(t *testing.T) {
	store := &stubStore{
		vector: []storage.ProductHit{hit(9, 0.5), hit(3, 0.5)},
		text:   []storage.ProductHit{hit(1, 0.5)},
	}
	r := NewRetriever(store, nil)

	resp, err := r.Search(context.Background(), Request{QueryText: "x", QueryVector: query})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if diff := cmp.Diff([]int64{3, 9, 1}, ids(resp.Candidates)); diff != "" {
		t.Errorf("tie-break mismatch (-want +got):\n%s", diff)
	}
}

func TestSearch_EmptyQueryTextSkipsTextBranch(t *testing.T) {
	for _, text := range []string{"", "   \t"} {
		store := &stubStore{
			vector: []storage.ProductHit{hit(1, 0.9)},
			text:   []storage.ProductHit{hit(2, 0.9)},
		}
		r := NewRetriever(store, nil)

		resp, err := r.Search(context.Background(), Request{QueryText: text, QueryVector: query})
		if err != nil {
			t.Fatalf("Search(%q) error = %v", text, err)
		}
		if store.textCalls != 0 {
			t.Errorf("text branch ran for %q", text)
		}
		for _, c := range resp.Candidates {
			if c.Source != types.SourceVector {
				t.Errorf("unexpected %s candidate for %q", c.Source, text)
			}
		}
	}
}

func TestSearch_BranchFailure(t *testing.T) {
	tests := []struct {
		name  string
		store *stubStore
	}{
		{name: "vector", store: &stubStore{vectorErr: types.ErrStoreUnavailable}},
		{name: "text", store: &stubStore{textErr: types.ErrStoreUnavailable}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRetriever(tt.store, nil)
			_, err := r.Search(context.Background(), Request{QueryText: "x", QueryVector: query})
			if !errors.Is(err, types.ErrStoreUnavailable) {
				t.Errorf("error = %v, want ErrStoreUnavailable", err)
			}
		})
	}
}

func TestSearch_InvalidRequest(t *testing.T) {
	r := NewRetriever(&stubStore{}, nil)
	ctx := context.Background()

	if _, err := r.Search(ctx, Request{QueryText: "x"}); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("missing vector error = %v, want ErrInvalidInput", err)
	}
	if _, err := r.Search(ctx, Request{QueryVector: query, Fusion: "bogus"}); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("bad fusion error = %v, want ErrInvalidInput", err)
	}
}

func TestParseFusion(t *testing.T) {
	tests := []struct {
		in   string
		want Fusion
		err  bool
	}{
		{"", FusionUnion, false},
		{"UNION", FusionUnion, false},
		{"max_score", FusionMaxScore, false},
		{"rrf", FusionRRF, false},
		{"intersect", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFusion(tt.in)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("ParseFusion(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, DefaultLimit},
		{-3, DefaultLimit},
		{7, 7},
		{MaxLimit + 1, MaxLimit},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func ids(cands []types.RankedCandidate) []int64 {
	out := make([]int64, len(cands))
	for i, c := range cands {
		out[i] = c.Product.ID
	}
	return out
}
