package common

import (
	"sync"
	"time"
)

// Meter tracks moving throughput (records per second) over a sliding window.
// It is used for progress reporting only and has no correctness role.
type Meter struct {
	mu      sync.Mutex
	window  time.Duration
	samples []meterSample
	now     func() time.Time
}

type meterSample struct {
	at    time.Time
	count int64
}

// NewMeter creates a meter with the given sliding window. A window of zero
// defaults to one minute.
func NewMeter(window time.Duration) *Meter {
	if window <= 0 {
		window = time.Minute
	}
	return &Meter{window: window, now: time.Now}
}

// Add records that count records were processed now.
func (m *Meter) Add(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, meterSample{at: m.now(), count: count})
	m.trim()
}

// Speed returns the recent throughput in records per second.
func (m *Meter) Speed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trim()
	if len(m.samples) == 0 {
		return 0
	}
	var total int64
	for _, s := range m.samples {
		total += s.count
	}
	elapsed := m.now().Sub(m.samples[0].at)
	if elapsed <= 0 {
		elapsed = time.Second
	}
	if elapsed > m.window {
		elapsed = m.window
	}
	return float64(total) / elapsed.Seconds()
}

func (m *Meter) trim() {
	cutoff := m.now().Add(-m.window)
	i := 0
	for i < len(m.samples) && m.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.samples = append(m.samples[:0], m.samples[i:]...)
	}
}
