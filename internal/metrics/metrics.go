// Package metrics collects process-lifetime counters for cache and scan
// activity. One ScanMetrics is constructed in main and passed by reference
// to every component that records into it.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ScanMetrics accumulates counters from process start. Written by the
// fetcher and the scan loop, read by the daily summary job.
type ScanMetrics struct {
	mu sync.Mutex

	startedAt time.Time

	cacheHits   int64
	cacheMisses int64

	upstreamCalls   int64
	upstreamRetries int64
	upstreamErrors  int64
	barsFetched     int64
	dataGaps        int64

	symbolsScanned int64
	setups         int64
	alertsSent     int64

	skipReasons map[string]int64
}

// New creates a zeroed metrics object stamped with the process start time.
func New() *ScanMetrics {
	return &ScanMetrics{
		startedAt:   time.Now().UTC(),
		skipReasons: make(map[string]int64),
	}
}

func (m *ScanMetrics) RecordCacheHit() {
	m.mu.Lock()
	m.cacheHits++
	m.mu.Unlock()
}

func (m *ScanMetrics) RecordCacheMiss() {
	m.mu.Lock()
	m.cacheMisses++
	m.mu.Unlock()
}

func (m *ScanMetrics) RecordUpstreamCall(barsFetched int) {
	m.mu.Lock()
	m.upstreamCalls++
	m.barsFetched += int64(barsFetched)
	m.mu.Unlock()
}

func (m *ScanMetrics) RecordUpstreamRetry() {
	m.mu.Lock()
	m.upstreamRetries++
	m.mu.Unlock()
}

func (m *ScanMetrics) RecordUpstreamError() {
	m.mu.Lock()
	m.upstreamErrors++
	m.mu.Unlock()
}

func (m *ScanMetrics) RecordDataGap(n int) {
	m.mu.Lock()
	m.dataGaps += int64(n)
	m.mu.Unlock()
}

func (m *ScanMetrics) RecordSymbolScanned() {
	m.mu.Lock()
	m.symbolsScanned++
	m.mu.Unlock()
}

func (m *ScanMetrics) RecordSetupTriggered() {
	m.mu.Lock()
	m.setups++
	m.mu.Unlock()
}

func (m *ScanMetrics) RecordAlertSent() {
	m.mu.Lock()
	m.alertsSent++
	m.mu.Unlock()
}

func (m *ScanMetrics) RecordSkip(reason string) {
	m.mu.Lock()
	m.skipReasons[reason]++
	m.mu.Unlock()
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	StartedAt       time.Time
	CacheHits       int64
	CacheMisses     int64
	UpstreamCalls   int64
	UpstreamRetries int64
	UpstreamErrors  int64
	BarsFetched     int64
	DataGaps        int64
	SymbolsScanned  int64
	Setups          int64
	AlertsSent      int64
	SkipReasons     map[string]int64
}

// Snapshot returns a consistent copy of the counters.
func (m *ScanMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	reasons := make(map[string]int64, len(m.skipReasons))
	for k, v := range m.skipReasons {
		reasons[k] = v
	}
	return Snapshot{
		StartedAt:       m.startedAt,
		CacheHits:       m.cacheHits,
		CacheMisses:     m.cacheMisses,
		UpstreamCalls:   m.upstreamCalls,
		UpstreamRetries: m.upstreamRetries,
		UpstreamErrors:  m.upstreamErrors,
		BarsFetched:     m.barsFetched,
		DataGaps:        m.dataGaps,
		SymbolsScanned:  m.symbolsScanned,
		Setups:          m.setups,
		AlertsSent:      m.alertsSent,
		SkipReasons:     reasons,
	}
}

// HitRate returns cache hits / (hits+misses), or 0 when nothing was fetched.
func (s Snapshot) HitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}

// Summary renders a multi-line report for the log.
func (s Snapshot) Summary() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("uptime=%s symbols=%d setups=%d alerts=%d\n",
		time.Since(s.StartedAt).Round(time.Second), s.SymbolsScanned, s.Setups, s.AlertsSent))
	b.WriteString(fmt.Sprintf("cache: hits=%d misses=%d hit_rate=%.1f%%\n",
		s.CacheHits, s.CacheMisses, s.HitRate()*100))
	b.WriteString(fmt.Sprintf("upstream: calls=%d retries=%d errors=%d bars=%d gaps=%d",
		s.UpstreamCalls, s.UpstreamRetries, s.UpstreamErrors, s.BarsFetched, s.DataGaps))
	if len(s.SkipReasons) > 0 {
		keys := make([]string, 0, len(s.SkipReasons))
		for k := range s.SkipReasons {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\nskips:")
		for _, k := range keys {
			b.WriteString(fmt.Sprintf(" %s=%d", k, s.SkipReasons[k]))
		}
	}
	return b.String()
}
