package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/dshills/querypipe/internal/storage"
)

// Thresholds select the slow and low-confidence query views.
type Thresholds struct {
	SlowMS        float64 `json:"slow_ms"`        // total_time_ms at or above is slow
	LowConfidence float64 `json:"low_confidence"` // confidence below is low
	MaxListed     int     `json:"max_listed"`     // cap on each filtered view
}

// DefaultThresholds returns the thresholds used by the stats tools.
func DefaultThresholds() Thresholds {
	return Thresholds{SlowMS: 2000, LowConfidence: 0.7, MaxListed: 20}
}

// PerformanceStats summarises a window of search metrics.
type PerformanceStats struct {
	Window     string  `json:"window,omitempty"`
	Count      int     `json:"count"`
	MeanMS     float64 `json:"mean_ms"`
	MinMS      float64 `json:"min_ms"`
	MaxMS      float64 `json:"max_ms"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	P99MS      float64 `json:"p99_ms"`

	MeanVectorSearchMS float64 `json:"mean_vector_search_ms"`
	MeanGenerationMS   float64 `json:"mean_generation_ms"`
	MeanSimilarity     float64 `json:"mean_similarity"`

	EmbeddingCacheHitRate float64 `json:"embedding_cache_hit_rate"`
	ResponseCacheHitRate  float64 `json:"response_cache_hit_rate"`
	ErrorRate             float64 `json:"error_rate"`

	ByIntent             []IntentBreakdown `json:"by_intent"`
	SlowQueries          []QuerySummary    `json:"slow_queries"`
	LowConfidenceQueries []QuerySummary    `json:"low_confidence_queries"`
	TimeSeries           []TimeBucket      `json:"time_series"`
}

// IntentBreakdown aggregates the queries routed to one intent.
type IntentBreakdown struct {
	Intent         string  `json:"intent"`
	Count          int     `json:"count"`
	MeanConfidence float64 `json:"mean_confidence"`
	MeanLatencyMS  float64 `json:"mean_latency_ms"`
}

// QuerySummary identifies one query in a filtered view.
type QuerySummary struct {
	QueryID     string    `json:"query_id"`
	QueryText   string    `json:"query_text"`
	Intent      string    `json:"intent,omitempty"`
	Confidence  *float64  `json:"confidence,omitempty"`
	TotalTimeMS *float64  `json:"total_time_ms,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TimeBucket averages the metrics created within one minute.
type TimeBucket struct {
	Minute             time.Time `json:"minute"`
	Count              int       `json:"count"`
	MeanTotalMS        float64   `json:"mean_total_ms"`
	MeanVectorSearchMS float64   `json:"mean_vector_search_ms"`
	MeanGenerationMS   float64   `json:"mean_generation_ms"`
}

// Percentile returns the p-th quantile (0 <= p <= 1) of values using linear
// interpolation between closest ranks, the same definition as SQL
// percentile_cont. values need not be sorted. It returns 0 for no values.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	switch {
	case p <= 0:
		return sorted[0]
	case p >= 1:
		return sorted[len(sorted)-1]
	}
	pos := p * float64(len(sorted)-1)
	lo := math.Floor(pos)
	frac := pos - lo
	i := int(lo)
	if i+1 >= len(sorted) {
		return sorted[i]
	}
	return sorted[i] + frac*(sorted[i+1]-sorted[i])
}

// Summarize aggregates records. Optional fields missing from a record are
// left out of the corresponding means, as SQL AVG does with NULL.
func Summarize(records []*storage.SearchMetric, th Thresholds) *PerformanceStats {
	out := &PerformanceStats{
		Count:                len(records),
		ByIntent:             []IntentBreakdown{},
		SlowQueries:          []QuerySummary{},
		LowConfidenceQueries: []QuerySummary{},
		TimeSeries:           []TimeBucket{},
	}
	if len(records) == 0 {
		return out
	}

	var (
		totals, vector, generation, similarity stats.Float64Data
		embHits, respHits, errs                int
	)
	type intentAcc struct {
		count       int
		confidences stats.Float64Data
		latencies   stats.Float64Data
	}
	byIntent := make(map[string]*intentAcc)
	type bucketAcc struct {
		count                      int
		totals, vector, generation stats.Float64Data
	}
	buckets := make(map[time.Time]*bucketAcc)

	for _, m := range records {
		if m.TotalTimeMS != nil {
			totals = append(totals, *m.TotalTimeMS)
		}
		if m.VectorSearchTimeMS != nil {
			vector = append(vector, *m.VectorSearchTimeMS)
		}
		if m.GenerationTimeMS != nil {
			generation = append(generation, *m.GenerationTimeMS)
		}
		if m.AvgSimilarityScore != nil {
			similarity = append(similarity, *m.AvgSimilarityScore)
		}
		if m.EmbeddingCacheHit {
			embHits++
		}
		if m.ResponseCacheHit {
			respHits++
		}
		if m.ErrorKind != "" {
			errs++
		}

		if m.Intent != "" {
			acc := byIntent[m.Intent]
			if acc == nil {
				acc = &intentAcc{}
				byIntent[m.Intent] = acc
			}
			acc.count++
			if m.ConfidenceScore != nil {
				acc.confidences = append(acc.confidences, *m.ConfidenceScore)
			}
			if m.TotalTimeMS != nil {
				acc.latencies = append(acc.latencies, *m.TotalTimeMS)
			}
		}

		minute := m.CreatedAt.UTC().Truncate(time.Minute)
		b := buckets[minute]
		if b == nil {
			b = &bucketAcc{}
			buckets[minute] = b
		}
		b.count++
		if m.TotalTimeMS != nil {
			b.totals = append(b.totals, *m.TotalTimeMS)
		}
		if m.VectorSearchTimeMS != nil {
			b.vector = append(b.vector, *m.VectorSearchTimeMS)
		}
		if m.GenerationTimeMS != nil {
			b.generation = append(b.generation, *m.GenerationTimeMS)
		}

		if m.TotalTimeMS != nil && th.SlowMS > 0 && *m.TotalTimeMS >= th.SlowMS {
			out.SlowQueries = append(out.SlowQueries, summarizeQuery(m))
		}
		if m.ConfidenceScore != nil && *m.ConfidenceScore < th.LowConfidence {
			out.LowConfidenceQueries = append(out.LowConfidenceQueries, summarizeQuery(m))
		}
	}

	n := float64(len(records))
	out.EmbeddingCacheHitRate = float64(embHits) / n
	out.ResponseCacheHitRate = float64(respHits) / n
	out.ErrorRate = float64(errs) / n

	if len(totals) > 0 {
		sorted := totals
		sort.Float64s(sorted)
		out.MeanMS = mean(sorted)
		out.MinMS, _ = stats.Min(sorted)
		out.MaxMS, _ = stats.Max(sorted)
		out.P50MS = percentileSorted(sorted, 0.50)
		out.P95MS = percentileSorted(sorted, 0.95)
		out.P99MS = percentileSorted(sorted, 0.99)
	}
	out.MeanVectorSearchMS = mean(vector)
	out.MeanGenerationMS = mean(generation)
	out.MeanSimilarity = mean(similarity)

	for intent, acc := range byIntent {
		out.ByIntent = append(out.ByIntent, IntentBreakdown{
			Intent:         intent,
			Count:          acc.count,
			MeanConfidence: mean(acc.confidences),
			MeanLatencyMS:  mean(acc.latencies),
		})
	}
	sort.Slice(out.ByIntent, func(i, j int) bool {
		if out.ByIntent[i].Count != out.ByIntent[j].Count {
			return out.ByIntent[i].Count > out.ByIntent[j].Count
		}
		return out.ByIntent[i].Intent < out.ByIntent[j].Intent
	})

	for minute, b := range buckets {
		out.TimeSeries = append(out.TimeSeries, TimeBucket{
			Minute:             minute,
			Count:              b.count,
			MeanTotalMS:        mean(b.totals),
			MeanVectorSearchMS: mean(b.vector),
			MeanGenerationMS:   mean(b.generation),
		})
	}
	sort.Slice(out.TimeSeries, func(i, j int) bool {
		return out.TimeSeries[i].Minute.Before(out.TimeSeries[j].Minute)
	})

	sort.SliceStable(out.SlowQueries, func(i, j int) bool {
		return *out.SlowQueries[i].TotalTimeMS > *out.SlowQueries[j].TotalTimeMS
	})
	sort.SliceStable(out.LowConfidenceQueries, func(i, j int) bool {
		return *out.LowConfidenceQueries[i].Confidence < *out.LowConfidenceQueries[j].Confidence
	})
	if th.MaxListed > 0 {
		if len(out.SlowQueries) > th.MaxListed {
			out.SlowQueries = out.SlowQueries[:th.MaxListed]
		}
		if len(out.LowConfidenceQueries) > th.MaxListed {
			out.LowConfidenceQueries = out.LowConfidenceQueries[:th.MaxListed]
		}
	}
	return out
}

// mean is stats.Mean with 0 for no data.
func mean(data stats.Float64Data) float64 {
	m, err := stats.Mean(data)
	if err != nil {
		return 0
	}
	return m
}

func summarizeQuery(m *storage.SearchMetric) QuerySummary {
	return QuerySummary{
		QueryID:     m.QueryID,
		QueryText:   m.QueryText,
		Intent:      m.Intent,
		Confidence:  m.ConfidenceScore,
		TotalTimeMS: m.TotalTimeMS,
		CreatedAt:   m.CreatedAt,
	}
}
