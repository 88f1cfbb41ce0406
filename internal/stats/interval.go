// Sentinel - Behavioral Anomaly Detection for CampusVerify
// Copyright 2026 CampusVerify
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/campusverify/sentinel

// Package stats provides the small statistical primitives the detection
// rules are built on: inter-arrival gap analysis, coefficient of variation,
// windowed rates, and hour-of-day activity binning.
//
// All functions are pure and operate on caller-supplied slices; none of
// them retain state. Detectors stay deterministic because every input is
// scoped to an explicit time window by the event store.
package stats

import (
	"math"
	"time"
)

// Gaps returns the inter-arrival gaps, in seconds, between consecutive
// timestamps. The input must be in ascending order. A slice of n
// timestamps yields n-1 gaps; fewer than two timestamps yield nil.
func Gaps(times []time.Time) []float64 {
	if len(times) < 2 {
		return nil
	}
	gaps := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		gaps = append(gaps, times[i].Sub(times[i-1]).Seconds())
	}
	return gaps
}

// Mean returns the arithmetic mean of values, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation of values.
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

// CoefficientOfVariation returns stddev/mean for the given values.
//
// A zero mean means all gaps are (near) zero, which for inter-arrival
// analysis is the most machine-like signal possible, so 0 is returned
// rather than NaN. Human reaction-time jitter produces values well above
// typical detection cutoffs (~0.15); scripted actors produce values near 0.
func CoefficientOfVariation(values []float64) float64 {
	mean := Mean(values)
	if mean == 0 {
		return 0
	}
	return StdDev(values) / mean
}

// Rate returns events per second for count events observed over the given
// window. A non-positive window yields 0.
func Rate(count int, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	return float64(count) / window.Seconds()
}

// ActiveHourBins returns how many distinct hour-of-day bins (0-23, UTC)
// contain at least one of the given timestamps. Bots that run around the
// clock light up nearly all 24 bins; humans tied to a timezone do not.
func ActiveHourBins(times []time.Time) int {
	var bins [24]bool
	count := 0
	for _, t := range times {
		h := t.UTC().Hour()
		if !bins[h] {
			bins[h] = true
			count++
		}
	}
	return count
}
