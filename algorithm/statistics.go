package algorithm

import (
	"math"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

// DataAnalysisInput requests descriptive statistics.
type DataAnalysisInput struct {
	Numbers []float64 `json:"numbers"`
}

// DataAnalysisResult values are rounded to two decimals except min and max.
type DataAnalysisResult struct {
	Sum     float64 `json:"sum"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Count   int     `json:"count"`
	Median  float64 `json:"median"`
	StdDev  float64 `json:"stdDev"`
}

func (*DataAnalysisInput) Algorithm() Name { return DataAnalysis }

func (in *DataAnalysisInput) run() (any, error) {
	if len(in.Numbers) == 0 {
		return nil, invalid("numbers array is required and must not be empty")
	}
	if !allFinite(in.Numbers) {
		return nil, invalid("all elements must be valid numbers")
	}

	n := len(in.Numbers)
	var sum float64
	for _, v := range in.Numbers {
		sum += v
	}
	avg := sum / float64(n)

	sorted := slices.Clone(in.Numbers)
	slices.Sort(sorted)

	var median float64
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	} else {
		median = sorted[n/2]
	}

	return DataAnalysisResult{
		Sum:     round(sum, 2),
		Average: round(avg, 2),
		Min:     sorted[0],
		Max:     sorted[n-1],
		Count:   n,
		Median:  round(median, 2),
		StdDev:  round(math.Sqrt(variance(in.Numbers)), 2),
	}, nil
}

// TextAnalysisInput requests word, character and sentence counts.
type TextAnalysisInput struct {
	Text string `json:"text"`
}

// TextAnalysisResult counts characters as Unicode code points.
type TextAnalysisResult struct {
	WordCount         int     `json:"wordCount"`
	CharacterCount    int     `json:"characterCount"`
	SentenceCount     int     `json:"sentenceCount"`
	AverageWordLength float64 `json:"averageWordLength"`
}

var sentenceSplit = regexp.MustCompile(`[.!?]+`)

func (*TextAnalysisInput) Algorithm() Name { return TextAnalysis }

func (in *TextAnalysisInput) run() (any, error) {
	trimmed := strings.TrimSpace(in.Text)
	if trimmed == "" {
		return nil, invalid("text cannot be empty")
	}

	words := strings.Fields(trimmed)
	var letters int
	for _, w := range words {
		letters += utf8.RuneCountInString(w)
	}

	sentences := 0
	for _, s := range sentenceSplit.Split(in.Text, -1) {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}

	var avg float64
	if len(words) > 0 {
		avg = round(float64(letters)/float64(len(words)), 2)
	}

	return TextAnalysisResult{
		WordCount:         len(words),
		CharacterCount:    utf8.RuneCountInString(trimmed),
		SentenceCount:     sentences,
		AverageWordLength: avg,
	}, nil
}
