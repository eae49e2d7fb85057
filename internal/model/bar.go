package model

import (
	"fmt"
	"time"
)

// Bar represents a single candlestick for one timeframe period.
// Timestamps are UTC and aligned to the timeframe boundary.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Timeframe identifies the duration of one bar.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

var timeframeDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF30m: 30 * time.Minute,
	TF1h:  time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
}

// ParseTimeframe validates a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// Duration returns the length of one bar period.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// Truncate returns the start of the period containing t, in UTC.
func (tf Timeframe) Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(tf.Duration())
}

// LastClosedBoundary returns the start of the most recent fully closed
// period as of now. A bar stamped at this boundary is complete.
func (tf Timeframe) LastClosedBoundary(now time.Time) time.Time {
	return tf.Truncate(now).Add(-tf.Duration())
}

// FetchRequest describes one cache-first retrieval. Transient, never persisted.
type FetchRequest struct {
	Symbol    string
	Timeframe Timeframe
	Start     time.Time
	End       time.Time
	MinBars   int
}

// Gap marks a hole between two consecutive cached bars wider than the
// allowed tolerance.
type Gap struct {
	After   time.Time
	Before  time.Time
	Missing int
}

func (g Gap) String() string {
	return fmt.Sprintf("gap of ~%d bars between %s and %s",
		g.Missing, g.After.Format(time.RFC3339), g.Before.Format(time.RFC3339))
}

// FindGaps scans an ordered bar sequence and flags every pair of
// consecutive bars separated by more than maxGapIntervals periods.
// Market closures make exact period arithmetic meaningless for equities,
// so the tolerance is a multiple of the timeframe, not one period.
func FindGaps(bars []Bar, tf Timeframe, maxGapIntervals int) []Gap {
	if maxGapIntervals < 1 {
		maxGapIntervals = 1
	}
	d := tf.Duration()
	limit := time.Duration(maxGapIntervals) * d

	var gaps []Gap
	for i := 1; i < len(bars); i++ {
		delta := bars[i].Time.Sub(bars[i-1].Time)
		if delta > limit {
			gaps = append(gaps, Gap{
				After:   bars[i-1].Time,
				Before:  bars[i].Time,
				Missing: int(delta/d) - 1,
			})
		}
	}
	return gaps
}

// SortedAndUnique reports whether the sequence is strictly increasing by
// timestamp, the invariant every cache read and append must preserve.
func SortedAndUnique(bars []Bar) bool {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			return false
		}
	}
	return true
}
