package algorithm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// Name identifies an algorithm. Names are stable wire identifiers.
type Name string

const (
	DataAnalysis       Name = "dataAnalysis"
	TextAnalysis       Name = "textAnalysis"
	MLPrediction       Name = "mlPrediction"
	SentimentAnalysis  Name = "sentimentAnalysis"
	TimeSeriesAnalysis Name = "timeSeriesAnalysis"
	Recommendation     Name = "recommendation"
	LinearRegression   Name = "linearRegression"
)

var (
	// ErrUnknownAlgorithm is returned for names outside the closed set.
	ErrUnknownAlgorithm = errors.New("unknown algorithm")
	// ErrInvalidInput is the parent of every input validation failure.
	ErrInvalidInput = errors.New("invalid algorithm input")
)

var ordered = []Name{
	DataAnalysis,
	TextAnalysis,
	MLPrediction,
	SentimentAnalysis,
	TimeSeriesAnalysis,
	Recommendation,
	LinearRegression,
}

// Names returns every algorithm in registration order.
func Names() []Name {
	return append([]Name(nil), ordered...)
}

// Known reports whether name is a registered algorithm.
func Known(name string) bool {
	for _, n := range ordered {
		if string(n) == name {
			return true
		}
	}
	return false
}

// Request is a decoded, typed algorithm input.
type Request interface {
	Algorithm() Name
	run() (any, error)
}

// Result is the output of one execution.
type Result struct {
	Algorithm     Name          `json:"algorithm"`
	Output        any           `json:"result"`
	ExecutionTime time.Duration `json:"executionTime"`
}

// DecodeRequest decodes raw into the typed request for name.
func DecodeRequest(name string, raw []byte) (Request, error) {
	var req Request
	switch Name(name) {
	case DataAnalysis:
		req = &DataAnalysisInput{}
	case TextAnalysis:
		req = &TextAnalysisInput{}
	case MLPrediction:
		req = &MLPredictionInput{}
	case SentimentAnalysis:
		req = &SentimentInput{}
	case TimeSeriesAnalysis:
		req = &TimeSeriesInput{}
	case Recommendation:
		req = &RecommendationInput{}
	case LinearRegression:
		req = &LinearRegressionInput{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, invalid("request body is required")
	}
	if err := json.Unmarshal(raw, req); err != nil {
		return nil, invalid("malformed %s input: %v", name, err)
	}
	return req, nil
}

// Run executes req.
func Run(ctx context.Context, req Request) (Result, error) {
	if req == nil {
		return Result{}, invalid("request is required")
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	start := time.Now()
	out, err := req.run()
	if err != nil {
		return Result{}, err
	}
	return Result{
		Algorithm:     req.Algorithm(),
		Output:        out,
		ExecutionTime: time.Since(start),
	}, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// round rounds half toward positive infinity at the given decimal places.
func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Floor(v*p+0.5) / p
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func variance(values []float64) float64 {
	m := mean(values)
	var acc float64
	for _, v := range values {
		acc += (v - m) * (v - m)
	}
	return acc / float64(len(values))
}
