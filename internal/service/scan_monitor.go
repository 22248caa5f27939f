package service

import (
	"slices"
	"sync"
	"time"

	"github.com/mint-scanner/internal/models"
	"github.com/mint-scanner/internal/types"
)

// DefaultSlowScan marks a wallet scan as slow in ScanStats.
const DefaultSlowScan = 2 * time.Minute

// ScanMonitor tracks wallet scan outcomes and durations for the admin stats
// endpoint. Only the last maxSamples durations are kept.
type ScanMonitor struct {
	mu            sync.RWMutex
	durations     []time.Duration
	maxSamples    int
	slowThreshold time.Duration

	totalScans    int64
	completed     int64
	partial       int64
	failed        int64
	slowScans     int64
	newRecords    int64
	unclassified  int64
	failedBatches int64
}

// NewScanMonitor creates a new scan monitor
func NewScanMonitor() *ScanMonitor {
	return &ScanMonitor{
		durations:     make([]time.Duration, 0, 1000),
		maxSamples:    1000,
		slowThreshold: DefaultSlowScan,
	}
}

// RecordScan records one finished SyncWallet call. res is nil when the scan
// returned an error.
func (m *ScanMonitor) RecordScan(duration time.Duration, res *models.SyncResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalScans++
	m.durations = append(m.durations, duration)
	if len(m.durations) > m.maxSamples {
		m.durations = m.durations[len(m.durations)-m.maxSamples:]
	}
	if duration > m.slowThreshold {
		m.slowScans++
	}

	switch {
	case res == nil:
		m.failed++
		return
	case res.FailedBatches > 0 || res.Status == types.SyncStatusFailed:
		m.partial++
	default:
		m.completed++
	}
	m.newRecords += int64(res.NewRecords)
	m.unclassified += int64(res.Unclassified)
	m.failedBatches += int64(res.FailedBatches)
}

// GetStats returns current scan statistics
func (m *ScanMonitor) GetStats() *models.ScanStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &models.ScanStats{
		TotalScans:    m.totalScans,
		Completed:     m.completed,
		Partial:       m.partial,
		Failed:        m.failed,
		SlowScans:     m.slowScans,
		NewRecords:    m.newRecords,
		Unclassified:  m.unclassified,
		FailedBatches: m.failedBatches,
	}
	if len(m.durations) == 0 {
		return stats
	}

	var total time.Duration
	for _, d := range m.durations {
		total += d
	}
	stats.AvgScanMs = float64(total.Milliseconds()) / float64(len(m.durations))

	sorted := slices.Clone(m.durations)
	slices.Sort(sorted)
	stats.P95ScanMs = float64(sorted[percentileIndex(len(sorted), 0.95)].Milliseconds())
	stats.P99ScanMs = float64(sorted[percentileIndex(len(sorted), 0.99)].Milliseconds())
	return stats
}

func percentileIndex(n int, p float64) int {
	return min(int(float64(n)*p), n-1)
}

// Reset resets all scan metrics
func (m *ScanMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.durations = make([]time.Duration, 0, m.maxSamples)
	m.totalScans, m.completed, m.partial, m.failed = 0, 0, 0, 0
	m.slowScans, m.newRecords, m.unclassified, m.failedBatches = 0, 0, 0, 0
}
