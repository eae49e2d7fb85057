// Package strategy evaluates a finished bar series and emits at most one
// candidate signal. The scan loop treats it as a black box.
package strategy

import (
	"fmt"

	"StockSentry/internal/model"
)

// Engine consumes a gap-checked bar sequence for one symbol/timeframe and
// returns zero or one candidate alert.
type Engine interface {
	Evaluate(symbol string, tf model.Timeframe, bars []model.Bar) (*model.Signal, error)
}

// RSIReversal signals an oversold reversal: RSI crosses back up through
// the oversold threshold on the latest closed bar.
type RSIReversal struct {
	Period    int
	Oversold  float64
	MinScore  float64
}

// NewRSIReversal applies the conventional defaults.
func NewRSIReversal() *RSIReversal {
	return &RSIReversal{Period: 14, Oversold: 30}
}

const setupRSIReversal = "RSI_REVERSAL"

// Evaluate returns a LONG signal when the previous bar's RSI was below
// the oversold threshold and the latest bar's RSI closed back above it.
func (e *RSIReversal) Evaluate(symbol string, tf model.Timeframe, bars []model.Bar) (*model.Signal, error) {
	if len(bars) < e.Period+2 {
		return nil, fmt.Errorf("%s: need at least %d bars, have %d", symbol, e.Period+2, len(bars))
	}

	rsiNow, err := rsi(bars, e.Period)
	if err != nil {
		return nil, err
	}
	rsiPrev, err := rsi(bars[:len(bars)-1], e.Period)
	if err != nil {
		return nil, err
	}

	if rsiPrev >= e.Oversold || rsiNow <= e.Oversold {
		return nil, nil
	}

	last := bars[len(bars)-1]
	// Score scales with how deep the preceding oversold reading was.
	score := (e.Oversold - rsiPrev) / e.Oversold * 100
	if score < e.MinScore {
		return nil, nil
	}
	return &model.Signal{
		Setup:     setupRSIReversal,
		Direction: model.DirectionLong,
		Score:     score,
		Price:     last.Close,
		Evidence: []string{
			fmt.Sprintf("RSI(%d) crossed up %.1f -> %.1f through %.0f", e.Period, rsiPrev, rsiNow, e.Oversold),
			fmt.Sprintf("trigger close %.2f", last.Close),
		},
	}, nil
}

// rsi computes the Wilder-smoothed RSI over the given period.
// Requires at least period+1 bars.
func rsi(bars []model.Bar, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("rsi period must be positive")
	}
	if len(bars) < period+1 {
		return 0, fmt.Errorf("rsi: need %d bars, have %d", period+1, len(bars))
	}

	// Initial average gain/loss over the first `period` changes
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change // make positive
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	// Wilder smoothing for remaining bars
	for i := period + 1; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100.0, nil
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs), nil
}
