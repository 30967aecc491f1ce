package algorithm

import (
	"fmt"
	"math"
)

// TimeSeriesInput requests a trend label and a short forecast.
type TimeSeriesInput struct {
	Values  []float64 `json:"values"`
	Periods int       `json:"periods"`
}

// TimeSeriesResult forecasts are rounded to two decimals.
type TimeSeriesResult struct {
	Trend    string    `json:"trend"`
	Forecast []float64 `json:"forecast"`
}

const (
	minSeriesPoints = 3
	maxPeriods      = 10
	trendThreshold  = 0.1
	levelAlpha      = 0.3
	trendBeta       = 0.1
)

func (*TimeSeriesInput) Algorithm() Name { return TimeSeriesAnalysis }

func (in *TimeSeriesInput) run() (any, error) {
	if len(in.Values) < minSeriesPoints {
		return nil, invalid("at least %d data points required for time series analysis", minSeriesPoints)
	}
	if !allFinite(in.Values) {
		return nil, invalid("all values must be valid numbers")
	}
	if in.Periods < 1 || in.Periods > maxPeriods {
		return nil, invalid("periods must be a number between 1 and %d", maxPeriods)
	}

	x := make([]float64, len(in.Values))
	for i := range x {
		x[i] = float64(i)
	}
	slope, _ := leastSquaresSlope(x, in.Values)

	trend := "stable"
	switch {
	case slope > trendThreshold:
		trend = "increasing"
	case slope < -trendThreshold:
		trend = "decreasing"
	}

	forecast := holtForecast(in.Values, in.Periods)
	for i := range forecast {
		forecast[i] = round(forecast[i], 2)
	}

	return TimeSeriesResult{Trend: trend, Forecast: forecast}, nil
}

// holtForecast applies Holt's linear smoothing over values, seeded with the
// mean of the first three points and their average step.
func holtForecast(values []float64, periods int) []float64 {
	level := (values[0] + values[1] + values[2]) / 3

	steps := min(3, len(values)-1)
	var trend float64
	for i := 1; i <= steps; i++ {
		trend += values[i] - values[i-1]
	}
	trend /= float64(steps)

	for _, v := range values {
		prev := level
		level = levelAlpha*v + (1-levelAlpha)*(level+trend)
		trend = trendBeta*(level-prev) + (1-trendBeta)*trend
	}

	out := make([]float64, periods)
	for i := range out {
		out[i] = level + float64(i+1)*trend
	}
	return out
}

// leastSquaresSlope returns the regression slope of y on x and false when x
// has no spread.
func leastSquaresSlope(x, y []float64) (float64, bool) {
	n := float64(len(x))
	var sumX, sumY, sumXY, sumXX float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
		sumXY += x[i] * y[i]
		sumXX += x[i] * x[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, false
	}
	return (n*sumXY - sumX*sumY) / denom, true
}

// LinearRegressionInput fits y = mx + b.
type LinearRegressionInput struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
}

// LinearRegressionResult rounds slope and intercept to two decimals and R²
// to four.
type LinearRegressionResult struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	Equation  string  `json:"equation"`
	RSquared  float64 `json:"rSquared"`
}

func (*LinearRegressionInput) Algorithm() Name { return LinearRegression }

func (in *LinearRegressionInput) run() (any, error) {
	if len(in.X) == 0 || len(in.Y) == 0 {
		return nil, invalid("x and y cannot be empty")
	}
	if len(in.X) != len(in.Y) {
		return nil, invalid("x and y must have the same length")
	}
	if len(in.X) < 2 {
		return nil, invalid("at least 2 data points required")
	}
	if !allFinite(in.X) {
		return nil, invalid("all x values must be valid numbers")
	}
	if !allFinite(in.Y) {
		return nil, invalid("all y values must be valid numbers")
	}

	slope, ok := leastSquaresSlope(in.X, in.Y)
	if !ok {
		return nil, invalid("x values must not all be equal")
	}

	meanY := mean(in.Y)
	intercept := meanY - slope*mean(in.X)

	var ssTotal, ssResidual float64
	for i := range in.Y {
		d := in.Y[i] - meanY
		ssTotal += d * d
		r := in.Y[i] - (slope*in.X[i] + intercept)
		ssResidual += r * r
	}
	var r2 float64
	if ssTotal > 0 {
		r2 = 1 - ssResidual/ssTotal
	}

	return LinearRegressionResult{
		Slope:     round(slope, 2),
		Intercept: round(intercept, 2),
		Equation:  equation(slope, intercept),
		RSquared:  round(r2, 4),
	}, nil
}

func equation(slope, intercept float64) string {
	if intercept >= 0 {
		return fmt.Sprintf("y = %.2fx + %.2f", slope, intercept)
	}
	return fmt.Sprintf("y = %.2fx - %.2f", slope, math.Abs(intercept))
}
