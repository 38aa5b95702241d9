package strategy

import (
	"math"
	"sync"
	"time"
)

// PricePoint records a single observation: the traded price and the SOL
// volume behind it.
type PricePoint struct {
	Price     float64
	AmountSOL float64
	Time      time.Time
}

// PriceTracker maintains a sliding window of recent observations per mint
// and exposes the statistical helpers strategies rely on. Points older than
// the window are discarded on every Track call.
type PriceTracker struct {
	history    map[string][]PricePoint
	windowSize time.Duration
	mu         sync.RWMutex
}

// NewPriceTracker creates a tracker whose in-memory history extends
// windowSize into the past.
func NewPriceTracker(windowSize time.Duration) *PriceTracker {
	return &PriceTracker{
		history:    make(map[string][]PricePoint),
		windowSize: windowSize,
	}
}

// Track records a new observation for the mint and trims points that have
// fallen outside the sliding window.
func (pt *PriceTracker) Track(mint string, price, amountSOL float64, ts time.Time) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.history[mint] = append(pt.history[mint], PricePoint{
		Price:     price,
		AmountSOL: amountSOL,
		Time:      ts,
	})
	pt.trim(mint, ts)
}

// History returns a copy of the observations within the sliding window for
// the mint. The returned slice is safe to mutate.
func (pt *PriceTracker) History(mint string) []PricePoint {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	src := pt.history[mint]
	if len(src) == 0 {
		return nil
	}
	out := make([]PricePoint, len(src))
	copy(out, src)
	return out
}

// Average returns the arithmetic mean of all prices in the window, or 0
// with no recorded points.
func (pt *PriceTracker) Average(mint string) float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	pts := pt.history[mint]
	if len(pts) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pts {
		sum += p.Price
	}
	return sum / float64(len(pts))
}

// Volatility returns the population standard deviation of the prices in the
// window, or 0 with fewer than two points.
func (pt *PriceTracker) Volatility(mint string) float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	pts := pt.history[mint]
	if len(pts) < 2 {
		return 0
	}

	var sum float64
	for _, p := range pts {
		sum += p.Price
	}
	mean := sum / float64(len(pts))

	var variance float64
	for _, p := range pts {
		d := p.Price - mean
		variance += d * d
	}
	variance /= float64(len(pts))
	return math.Sqrt(variance)
}

// VolumeSince sums the SOL volume of observations at or after cutoff.
func (pt *PriceTracker) VolumeSince(mint string, cutoff time.Time) float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	var sum float64
	for _, p := range pt.history[mint] {
		if !p.Time.Before(cutoff) {
			sum += p.AmountSOL
		}
	}
	return sum
}

// trim removes all points older than windowSize relative to the reference
// time. The caller must hold pt.mu.
func (pt *PriceTracker) trim(mint string, now time.Time) {
	cutoff := now.Add(-pt.windowSize)
	pts := pt.history[mint]

	i := 0
	for i < len(pts) && pts[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		pt.history[mint] = pts[i:]
	}
}
