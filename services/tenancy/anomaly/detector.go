// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package anomaly flags abnormal tenant spend with a rolling z-score.
package anomaly

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
)

// Options tune the detector.
//
// # Fields
//
//   - WindowDays: Days before the evaluated date that form the baseline. Default: 7.
//   - Threshold: Absolute z-score above which a value is anomalous. Default: 2.5.
//   - MinPoints: Baseline size below which no statistics are computed. Default: 3.
type Options struct {
	WindowDays int     `yaml:"window_days" validate:"gte=1,lte=365"`
	Threshold  float64 `yaml:"threshold" validate:"gt=0"`
	MinPoints  int     `yaml:"min_points" validate:"gte=2"`
}

// DefaultOptions returns the standard detector settings.
func DefaultOptions() Options {
	return Options{WindowDays: 7, Threshold: 2.5, MinPoints: 3}
}

// Detect evaluates the last record of series against the records dated in
// the WindowDays before it.
//
// # Description
//
// The evaluated record is excluded from its own baseline. The baseline uses
// the sample mean and the Bessel-corrected standard deviation. When the
// baseline has zero spread, any deviation from the mean is anomalous with
// an infinite z-score of matching sign, and an exact match scores zero.
// Seasonal adjustment is not applied: weekends and holidays count like any
// other day.
//
// # Inputs
//
//   - series: Cost records ordered by date, oldest first. Only the last
//     record is evaluated.
//   - opts: Detector settings.
//
// # Outputs
//
//   - datatypes.AnomalyResult: With nil statistics and Anomaly=false when
//     fewer than MinPoints records fall in the window, or when series is
//     empty.
func Detect(series []datatypes.CostRecord, opts Options) datatypes.AnomalyResult {
	if len(series) == 0 {
		return datatypes.AnomalyResult{}
	}

	current := series[len(series)-1]
	evalDate := truncateDay(current.Date)
	windowStart := evalDate.AddDate(0, 0, -opts.WindowDays)

	result := datatypes.AnomalyResult{
		TenantID:     current.TenantID,
		ResourceType: current.ResourceType,
		Date:         evalDate,
		Observed:     current.Amount.InexactFloat64(),
	}

	var window []decimal.Decimal
	for _, r := range series[:len(series)-1] {
		d := truncateDay(r.Date)
		if d.Before(windowStart) || !d.Before(evalDate) {
			continue
		}
		window = append(window, r.Amount)
	}
	result.WindowSize = len(window)
	if len(window) < opts.MinPoints || len(window) < 2 {
		return result
	}

	meanDec := decimal.Sum(window[0], window[1:]...).Div(decimal.NewFromInt(int64(len(window))))
	mean := meanDec.InexactFloat64()

	var ss float64
	for _, v := range window {
		diff := v.Sub(meanDec).InexactFloat64()
		ss += diff * diff
	}
	std := math.Sqrt(ss / float64(len(window)-1))

	var z float64
	switch {
	case std == 0 && current.Amount.Equal(meanDec):
		z = 0
	case std == 0:
		z = math.Inf(1)
		if current.Amount.LessThan(meanDec) {
			z = math.Inf(-1)
		}
	default:
		z = (result.Observed - mean) / std
	}

	lo := mean - opts.Threshold*std
	hi := mean + opts.Threshold*std
	result.Mean = &mean
	result.StdDev = &std
	result.ZScore = &z
	result.ExpectedMin = &lo
	result.ExpectedMax = &hi
	result.Anomaly = math.Abs(z) > opts.Threshold
	return result
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
