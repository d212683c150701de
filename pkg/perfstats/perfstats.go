package perfstats

import (
	"sync"
	"time"
)

// Two scalars (N samples and X total amount), which can measure total and average values.
type Accumulator struct {
	Samples int64
	Total   float64
}

func (a *Accumulator) AddSample(v float64) {
	a.Samples++
	a.Total += v
}

func (a *Accumulator) Average() float64 {
	if a.Samples == 0 {
		return 0
	}
	return a.Total / float64(a.Samples)
}

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// Summary of a TimeAccumulator, in a form that is convenient for JSON reports
type TimingSummary struct {
	Samples   int64   `json:"samples"`
	TotalMS   float64 `json:"totalMs"`
	AverageMS float64 `json:"averageMs"`
}

// TimingSet holds a named TimeAccumulator per stage (eg per perception adapter).
// Stages may be timed from multiple goroutines.
type TimingSet struct {
	lock   sync.Mutex
	stages map[string]*TimeAccumulator
}

func NewTimingSet() *TimingSet {
	return &TimingSet{
		stages: map[string]*TimeAccumulator{},
	}
}

// Add a sample for the named stage
func (s *TimingSet) AddSample(stage string, v time.Duration) {
	s.lock.Lock()
	defer s.lock.Unlock()
	acc := s.stages[stage]
	if acc == nil {
		acc = &TimeAccumulator{}
		s.stages[stage] = acc
	}
	acc.AddSample(v)
}

// Time calls f, and adds the elapsed time as a sample for the named stage
func (s *TimingSet) Time(stage string, f func()) {
	start := time.Now()
	f()
	s.AddSample(stage, time.Since(start))
}

func (s *TimingSet) Summary() map[string]TimingSummary {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := make(map[string]TimingSummary, len(s.stages))
	for name, acc := range s.stages {
		out[name] = TimingSummary{
			Samples:   acc.Samples,
			TotalMS:   float64(acc.Total.Microseconds()) / 1000,
			AverageMS: float64(acc.Average().Microseconds()) / 1000,
		}
	}
	return out
}
