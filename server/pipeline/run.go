package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/cyclopcam/vigil/pkg/perfstats"
	"github.com/cyclopcam/vigil/server/aggregate"
	"github.com/cyclopcam/vigil/server/config"
	"github.com/cyclopcam/vigil/server/perception"
	"github.com/cyclopcam/vigil/server/rules"
	"github.com/cyclopcam/vigil/server/tracker"
)

// Report is the final result of a run
type Report struct {
	Video             string                             `json:"video,omitempty"`
	Frames            int64                              `json:"frames"`        // Frames read from the source
	SampledFrames     int64                              `json:"sampledFrames"` // Frames that were analyzed
	DurationSeconds   float64                            `json:"durationSeconds"`
	ProcessingSeconds float64                            `json:"processingSeconds"`
	Cancelled         bool                               `json:"cancelled"`
	Error             string                             `json:"error,omitempty"`
	Config            config.Config                      `json:"config"`
	Stats             aggregate.Stats                    `json:"stats"`
	AnomaliesByKind   map[string]int64                   `json:"anomaliesByKind"`
	Events            []rules.Event                      `json:"events"`
	Entities          []EntitySummary                    `json:"entities"`
	AdapterTimings    map[string]perfstats.TimingSummary `json:"adapterTimings"`
}

// EntitySummary is what was seen of one person over the whole run
type EntitySummary struct {
	ID         int64          `json:"id"`
	FirstSeen  int            `json:"firstSeen"` // Frame index
	LastSeen   int            `json:"lastSeen"`  // Frame index
	Sightings  int            `json:"sightings"`
	Emotions   map[string]int `json:"emotions"`   // Recent raw emotion labels
	Activities map[string]int `json:"activities"` // Recent raw activity labels
	Departed   bool           `json:"departed"`   // Evicted before the run ended. Its numbers are from that moment.
}

func summarize(s tracker.Snapshot, departed bool) EntitySummary {
	return EntitySummary{
		ID:         s.ID,
		FirstSeen:  s.FirstSeen,
		LastSeen:   s.LastSeen,
		Sightings:  s.Sightings,
		Emotions:   s.Emotions,
		Activities: s.Activities,
		Departed:   departed,
	}
}

// EntitySummaries describes every entity of the current run, ordered by ID
func (p *Pipeline) EntitySummaries() []EntitySummary {
	st := p.state
	out := []EntitySummary{}
	if st == nil {
		return out
	}
	for _, s := range st.departed {
		out = append(out, summarize(s, true))
	}
	for _, s := range st.tracker.Alive() {
		out = append(out, summarize(s, false))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Optional interfaces of a FrameSource
type namedSource interface {
	Name() string
}

type sizedSource interface {
	TotalFrames() int
}

// Pause stops Run before the next frame, until Resume is called
func (p *Pipeline) Pause() {
	p.pauseLock.Lock()
	p.paused = true
	p.pauseLock.Unlock()
	p.Log.Infof("Pipeline: Paused")
}

func (p *Pipeline) Resume() {
	p.pauseLock.Lock()
	p.paused = false
	p.pauseCond.Broadcast()
	p.pauseLock.Unlock()
	p.Log.Infof("Pipeline: Resumed")
}

func (p *Pipeline) IsPaused() bool {
	p.pauseLock.Lock()
	defer p.pauseLock.Unlock()
	return p.paused
}

// Cancel stops Run before the next frame. The results so far are kept.
func (p *Pipeline) Cancel() {
	p.cancelled.Store(true)
	p.pauseLock.Lock()
	p.pauseCond.Broadcast()
	p.pauseLock.Unlock()
}

func (p *Pipeline) IsCancelled() bool {
	return p.cancelled.Load()
}

// Block while paused. Returns false if the run must stop.
func (p *Pipeline) waitWhilePaused(ctx context.Context) bool {
	p.pauseLock.Lock()
	defer p.pauseLock.Unlock()
	for p.paused && !p.cancelled.Load() && ctx.Err() == nil {
		p.pauseCond.Wait()
	}
	return !p.cancelled.Load() && ctx.Err() == nil
}

// Run reads frames from source until it is exhausted, the run is cancelled, or ctx
// is done. Every SampleStride'th frame is analyzed.
// A report is always returned, even when the source fails, in which case the error
// is also returned.
func (p *Pipeline) Run(ctx context.Context, source perception.FrameSource) (*Report, error) {
	st := p.state
	if st == nil {
		return nil, ErrNotConfigured
	}
	cfg := &st.cfg
	start := time.Now()

	// Wake up a paused loop when the context ends
	stopWaking := context.AfterFunc(ctx, func() {
		p.pauseLock.Lock()
		p.pauseCond.Broadcast()
		p.pauseLock.Unlock()
	})
	defer stopWaking()

	totalFrames := 0
	if s, ok := source.(sizedSource); ok {
		totalFrames = s.TotalFrames()
	}

	var runErr error
	sampled := 0
	lastNotify := time.Now()
	progress := func(done bool) Progress {
		stats := p.aggregator.Snapshot()
		return Progress{
			Frame:       st.lastRead,
			Time:        st.lastTime,
			TotalFrames: totalFrames,
			Events:      p.aggregator.NumEvents(),
			Stats:       &stats,
			Paused:      p.IsPaused(),
			Done:        done,
		}
	}

	p.Log.Infof("Pipeline: Starting run")
	for {
		if !p.waitWhilePaused(ctx) {
			break
		}
		frame, err := source.NextFrame()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			runErr = fmt.Errorf("Failed to read frame after %v: %w", st.lastRead, err)
			break
		}
		if frame.Index <= st.lastRead {
			p.Log.Warnf("Pipeline: Ignoring out of order frame %v", frame.Index)
			continue
		}
		st.lastRead = frame.Index
		st.lastTime = frame.Time
		if frame.Index%cfg.SampleStride != 0 {
			continue
		}
		if _, err := p.ProcessFrame(frame); err != nil {
			runErr = err
			break
		}
		sampled++
		if sampled%cfg.ObserverStride == 0 || time.Since(lastNotify) >= cfg.ObserverInterval() {
			lastNotify = time.Now()
			p.sendToWatchers(progress(false))
		}
	}

	// Frames after the last sampled frame were read, but never analyzed
	p.aggregator.AddSkippedFrames(st.lastRead - st.lastSampled)

	cancelled := p.IsCancelled() || ctx.Err() != nil
	if cancelled {
		p.Log.Infof("Pipeline: Run cancelled at frame %v", st.lastRead)
	}

	report := p.makeReport(source, time.Since(start), cancelled, runErr)
	p.sendToWatchers(progress(true))
	p.Log.Infof("Pipeline: Finished. %v frames, %v sampled, %v entities, %v anomalies in %.1f seconds", report.Frames, report.SampledFrames, len(report.Entities), report.Stats.TotalAnomalies(), report.ProcessingSeconds)
	return report, runErr
}

func (p *Pipeline) makeReport(source perception.FrameSource, elapsed time.Duration, cancelled bool, runErr error) *Report {
	st := p.state
	stats := p.aggregator.Snapshot()
	r := &Report{
		Frames:            stats.Frames,
		SampledFrames:     stats.SampledFrames,
		DurationSeconds:   st.lastTime.Seconds(),
		ProcessingSeconds: elapsed.Seconds(),
		Cancelled:         cancelled,
		Config:            st.cfg,
		Stats:             stats,
		AnomaliesByKind:   stats.Anomalies,
		Events:            p.aggregator.Events(),
		Entities:          p.EntitySummaries(),
		AdapterTimings:    st.timings.Summary(),
	}
	if r.Events == nil {
		r.Events = []rules.Event{}
	}
	if s, ok := source.(namedSource); ok {
		r.Video = s.Name()
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	return r
}
