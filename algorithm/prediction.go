package algorithm

import (
	"math"
	"strings"
	"unicode"
)

// MLPredictionInput scores a linear model.
type MLPredictionInput struct {
	Features []float64 `json:"features"`
	Weights  []float64 `json:"weights"`
}

// MLPredictionResult carries a three-decimal prediction and a confidence
// clamped to [0.3, 0.95].
type MLPredictionResult struct {
	Prediction float64 `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

const (
	minConfidence = 0.3
	maxConfidence = 0.95
)

func (*MLPredictionInput) Algorithm() Name { return MLPrediction }

func (in *MLPredictionInput) run() (any, error) {
	if len(in.Features) == 0 || len(in.Weights) == 0 {
		return nil, invalid("features and weights cannot be empty")
	}
	if len(in.Features) != len(in.Weights) {
		return nil, invalid("features and weights must have the same length")
	}
	if !allFinite(in.Features) {
		return nil, invalid("all features must be valid numbers")
	}
	if !allFinite(in.Weights) {
		return nil, invalid("all weights must be valid numbers")
	}

	var prediction, weightSum float64
	for i, f := range in.Features {
		prediction += f * in.Weights[i]
		weightSum += math.Abs(in.Weights[i])
	}

	confidence := weightEntropy(in.Weights, weightSum)*0.6 + (1/(1+variance(in.Features)))*0.4
	confidence = math.Max(minConfidence, math.Min(maxConfidence, confidence))

	return MLPredictionResult{
		Prediction: round(prediction, 3),
		Confidence: round(confidence, 2),
	}, nil
}

// weightEntropy is the Shannon entropy of the normalized absolute weights,
// scaled by log2(n) into [0, 1]. A single weight or an all-zero vector has
// no spread and scores 0.
func weightEntropy(weights []float64, absSum float64) float64 {
	if len(weights) < 2 || absSum == 0 {
		return 0
	}
	var h float64
	for _, w := range weights {
		p := math.Abs(w) / absSum
		if p > 0 {
			h -= p * math.Log2(p)
		}
	}
	return h / math.Log2(float64(len(weights)))
}

// SentimentInput requests lexicon-based polarity.
type SentimentInput struct {
	Text string `json:"text"`
}

// SentimentResult is positive, negative or neutral with a magnitude in [0, 1].
type SentimentResult struct {
	Sentiment string  `json:"sentiment"`
	Score     float64 `json:"score"`
}

const (
	intensifierWeight = 1.5
	neutralBand       = 0.1
)

var (
	positiveWords = wordSet(
		"good", "great", "excellent", "amazing", "wonderful", "fantastic", "awesome",
		"love", "best", "perfect", "beautiful", "brilliant", "outstanding", "superb",
		"happy", "joy", "delighted", "pleased", "satisfied", "thrilled", "excited",
		"positive", "nice", "pleasant", "lovely", "fabulous", "terrific", "incredible",
		"extraordinary", "exceptional", "magnificent", "marvelous", "splendid", "fun",
	)
	negativeWords = wordSet(
		"bad", "terrible", "awful", "horrible", "poor", "worst", "hate", "dislike",
		"disappointing", "disappointed", "sad", "angry", "frustrated", "annoyed",
		"unhappy", "negative", "problem", "issue", "fail", "failed", "wrong", "broken",
		"useless", "worthless", "waste", "disgusting", "pathetic", "ridiculous",
		"annoying", "boring", "dull", "mediocre", "inferior", "subpar", "inadequate",
	)
	intensifiers = wordSet("very", "extremely", "really", "absolutely", "totally", "completely")
	negations    = wordSet("not", "no", "never", "nothing", "nowhere", "neither", "nobody")
)

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

func (*SentimentInput) Algorithm() Name { return SentimentAnalysis }

func (in *SentimentInput) run() (any, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, invalid("text cannot be empty")
	}

	var positive, negative float64
	multiplier := 1.0
	negated := false

	for _, token := range strings.Fields(strings.ToLower(in.Text)) {
		word := stripNonWord(token)

		if _, ok := intensifiers[word]; ok {
			multiplier = intensifierWeight
			continue
		}
		if isNegation(token, word) {
			negated = true
			continue
		}

		_, pos := positiveWords[word]
		_, neg := negativeWords[word]
		if !pos && !neg {
			continue
		}
		if pos != negated {
			positive += multiplier
		} else {
			negative += multiplier
		}
		multiplier = 1.0
		negated = false
	}

	total := positive + negative
	if total == 0 {
		return SentimentResult{Sentiment: "neutral", Score: 0}, nil
	}

	net := (positive - negative) / total
	switch {
	case net > neutralBand:
		return SentimentResult{Sentiment: "positive", Score: round(math.Min(1, math.Abs(net)), 2)}, nil
	case net < -neutralBand:
		return SentimentResult{Sentiment: "negative", Score: round(math.Min(1, math.Abs(net)), 2)}, nil
	default:
		return SentimentResult{Sentiment: "neutral", Score: 0}, nil
	}
}

// isNegation matches whole negation words and contractions ending in n't.
func isNegation(token, word string) bool {
	if _, ok := negations[word]; ok {
		return true
	}
	return strings.Contains(token, "n't") || strings.Contains(token, "n’t")
}

func stripNonWord(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '_' || (r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))) {
			return r
		}
		return -1
	}, s)
}
