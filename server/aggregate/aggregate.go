// Package aggregate accumulates the running totals of an analysis run
package aggregate

import (
	"sync"

	"github.com/cyclopcam/vigil/pkg/gen"
	"github.com/cyclopcam/vigil/server/rules"
)

// Stats are the running totals of a run.
// Every counter only ever increases, until the next run starts.
type Stats struct {
	Frames         int64            `json:"frames"`         // Frames read from the source, including frames skipped by the sampling stride
	SampledFrames  int64            `json:"sampledFrames"`  // Frames that were analyzed
	Faces          int64            `json:"faces"`          // Total face (or person) detections
	UniqueEntities int64            `json:"uniqueEntities"` // Distinct entities created by the tracker
	Emotions       map[string]int64 `json:"emotions"`       // Smoothed emotion label -> number of entity-frames
	Activities     map[string]int64 `json:"activities"`     // Smoothed activity label -> number of entity-frames
	Anomalies      map[string]int64 `json:"anomalies"`      // Anomaly kind -> count
	Severities     map[string]int64 `json:"severities"`     // Severity -> count
	Objects        map[string]int64 `json:"objects"`        // Object category -> number of detections
	Scenes         map[string]int64 `json:"scenes"`         // Scene label -> number of sampled frames
}

func newStats() Stats {
	return Stats{
		Emotions:   map[string]int64{},
		Activities: map[string]int64{},
		Anomalies:  map[string]int64{},
		Severities: map[string]int64{},
		Objects:    map[string]int64{},
		Scenes:     map[string]int64{},
	}
}

func (s *Stats) clone() Stats {
	c := *s
	c.Emotions = gen.CopyMap(s.Emotions)
	c.Activities = gen.CopyMap(s.Activities)
	c.Anomalies = gen.CopyMap(s.Anomalies)
	c.Severities = gen.CopyMap(s.Severities)
	c.Objects = gen.CopyMap(s.Objects)
	c.Scenes = gen.CopyMap(s.Scenes)
	return c
}

// TotalAnomalies is the sum of anomalies over all kinds
func (s *Stats) TotalAnomalies() int64 {
	return gen.SumValues(s.Anomalies)
}

// FrameCounts are the observations of a single sampled frame
type FrameCounts struct {
	Frames      int      // Frames read since the previous sampled frame, including this one
	Faces       int      // Face or person detections
	NewEntities int      // Entities created by the tracker on this frame
	Emotions    []string // Smoothed emotion of each entity that has one
	Activities  []string // Smoothed activity of each entity that has one
	Objects     []string // Category of each detected object
	Scene       string   // Scene label in effect, or empty if none
}

// Aggregator is safe for concurrent use. The pipeline records into it from the
// worker goroutine, while observers take snapshots from anywhere.
type Aggregator struct {
	lock   sync.Mutex
	stats  Stats
	events []rules.Event
}

func New() *Aggregator {
	return &Aggregator{
		stats: newStats(),
	}
}

// Record adds the results of one sampled frame
func (a *Aggregator) Record(events []rules.Event, c FrameCounts) {
	a.lock.Lock()
	defer a.lock.Unlock()
	s := &a.stats
	if c.Frames > 0 {
		s.Frames += int64(c.Frames)
	}
	s.SampledFrames++
	s.Faces += int64(max(c.Faces, 0))
	s.UniqueEntities += int64(max(c.NewEntities, 0))
	for _, e := range c.Emotions {
		s.Emotions[e]++
	}
	for _, act := range c.Activities {
		s.Activities[act]++
	}
	for _, o := range c.Objects {
		s.Objects[o]++
	}
	if c.Scene != "" {
		s.Scenes[c.Scene]++
	}
	for _, e := range events {
		s.Anomalies[e.Kind.String()]++
		s.Severities[e.Severity.String()]++
	}
	a.events = append(a.events, events...)
}

// AddSkippedFrames counts frames that were read but not analyzed, such as the
// tail of a video that ends between two sampled frames.
func (a *Aggregator) AddSkippedFrames(n int) {
	if n <= 0 {
		return
	}
	a.lock.Lock()
	a.stats.Frames += int64(n)
	a.lock.Unlock()
}

// Snapshot returns a deep copy of the running totals
func (a *Aggregator) Snapshot() Stats {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.stats.clone()
}

// Events returns a copy of the event log, in the order in which events were recorded
func (a *Aggregator) Events() []rules.Event {
	a.lock.Lock()
	defer a.lock.Unlock()
	return append([]rules.Event(nil), a.events...)
}

// NumEvents returns the length of the event log
func (a *Aggregator) NumEvents() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	return len(a.events)
}

// Reset discards all totals and events. It is only called when a new run starts.
func (a *Aggregator) Reset() {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.stats = newStats()
	a.events = nil
}
