package algorithm

import (
	"math"
	"sort"
)

// RecommendationInput ranks items by cosine similarity to a preference vector.
type RecommendationInput struct {
	UserPreferences []float64   `json:"userPreferences"`
	ItemFeatures    [][]float64 `json:"itemFeatures"`
	TopN            int         `json:"topN"`
}

// ScoredItem is one ranked item; scores are rounded to three decimals.
type ScoredItem struct {
	ItemIndex int     `json:"itemIndex"`
	Score     float64 `json:"score"`
}

// RecommendationResult lists the best TopN items, highest score first.
type RecommendationResult struct {
	Recommendations []ScoredItem `json:"recommendations"`
}

func (*RecommendationInput) Algorithm() Name { return Recommendation }

func (in *RecommendationInput) run() (any, error) {
	if len(in.UserPreferences) == 0 {
		return nil, invalid("userPreferences must be a non-empty array")
	}
	if len(in.ItemFeatures) == 0 {
		return nil, invalid("itemFeatures must be a non-empty array")
	}
	if !allFinite(in.UserPreferences) {
		return nil, invalid("all user preferences must be valid numbers")
	}
	dim := len(in.UserPreferences)
	for _, item := range in.ItemFeatures {
		if !allFinite(item) {
			return nil, invalid("all item features must be arrays of valid numbers")
		}
		if len(item) != dim {
			return nil, invalid("all items must have %d features to match user preferences", dim)
		}
	}
	if in.TopN < 1 || in.TopN > len(in.ItemFeatures) {
		return nil, invalid("topN must be between 1 and %d", len(in.ItemFeatures))
	}

	scored := make([]ScoredItem, len(in.ItemFeatures))
	for i, item := range in.ItemFeatures {
		scored[i] = ScoredItem{ItemIndex: i, Score: cosine(in.UserPreferences, item)}
	}
	sort.SliceStable(scored, func(a, b int) bool { return scored[a].Score > scored[b].Score })

	top := scored[:in.TopN]
	for i := range top {
		top[i].Score = round(top[i].Score, 3)
	}
	return RecommendationResult{Recommendations: top}, nil
}

func cosine(a, b []float64) float64 {
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
