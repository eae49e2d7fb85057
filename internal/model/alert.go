package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Direction of a signalled setup.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Signal is what the strategy engine hands back for one symbol: zero or
// one candidate alert per evaluation.
type Signal struct {
	Setup     string
	Direction Direction
	Score     float64
	Price     float64
	Evidence  []string
}

// Alert is a confirmed (post-dedup) signal bound to its symbol and time.
type Alert struct {
	ID        string
	Symbol    string
	Timeframe Timeframe
	Setup     string
	Direction Direction
	Score     float64
	Price     float64
	Evidence  []string
	CreatedAt time.Time
}

// NewAlert builds an Alert with a deterministic fingerprint so the same
// setup on the same bar always yields the same ID.
func NewAlert(symbol string, tf Timeframe, sig *Signal, now time.Time) Alert {
	bucket := tf.Truncate(now)
	return Alert{
		ID:        AlertFingerprint(symbol, tf, sig.Setup, bucket),
		Symbol:    symbol,
		Timeframe: tf,
		Setup:     sig.Setup,
		Direction: sig.Direction,
		Score:     sig.Score,
		Price:     sig.Price,
		Evidence:  sig.Evidence,
		CreatedAt: now.UTC(),
	}
}

// AlertFingerprint hashes symbol+timeframe+setup+bucket time into a stable ID.
func AlertFingerprint(symbol string, tf Timeframe, setup string, bucket time.Time) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", symbol, tf, setup, bucket.UTC().Unix())))
	return hex.EncodeToString(h[:])[:16]
}

// DedupKey identifies the cooldown bucket an alert belongs to.
type DedupKey struct {
	Symbol    string
	Timeframe Timeframe
	Setup     string
}

func (k DedupKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Symbol, k.Timeframe, k.Setup)
}

// Key returns the dedup key for an alert.
func (a Alert) Key() DedupKey {
	return DedupKey{Symbol: a.Symbol, Timeframe: a.Timeframe, Setup: a.Setup}
}
