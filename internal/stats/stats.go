// Package stats holds the population statistics shared by the anomaly
// detector, pattern detectors and timeline analyzer.
package stats

import (
	"math"
	"sort"
)

// Mean of xs, 0 for an empty sample.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// PVariance is the population variance of xs.
func PVariance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return ss / float64(len(xs))
}

// PStdev is the population standard deviation of xs.
func PStdev(xs []float64) float64 {
	return math.Sqrt(PVariance(xs))
}

// Median of xs without modifying the input.
func Median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// Min of xs, 0 for an empty sample.
func Min(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

// ZScore returns (x-mean)/stdev. Callers skip zero-variance samples.
func ZScore(x, mean, stdev float64) float64 {
	return (x - mean) / stdev
}

// Round2 rounds to two decimals.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}
