// Package pipeline drives the per-frame flow of the analyzer:
// perception adapters, entity tracking, temporal smoothing, scene context and
// baselines, anomaly rules, and finally aggregation.
package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vigil/pkg/geom"
	"github.com/cyclopcam/vigil/pkg/perfstats"
	"github.com/cyclopcam/vigil/server/aggregate"
	"github.com/cyclopcam/vigil/server/baseline"
	"github.com/cyclopcam/vigil/server/config"
	"github.com/cyclopcam/vigil/server/perception"
	"github.com/cyclopcam/vigil/server/rules"
	"github.com/cyclopcam/vigil/server/scene"
	"github.com/cyclopcam/vigil/server/smoother"
	"github.com/cyclopcam/vigil/server/tracker"
)

// ErrNotConfigured is returned when frames are processed before Configure
var ErrNotConfigured = errors.New("Pipeline has not been configured")

// EventSink receives the events of every processed frame, typically to persist them.
type EventSink interface {
	WriteEvents(events []rules.Event) error
}

// EntityResult is the state of one visible entity after a frame was processed
type EntityResult struct {
	ID          int64                  `json:"id"`
	Box         geom.Rect              `json:"box"`
	New         bool                   `json:"new"`
	FirstSeen   int                    `json:"firstSeen"` // Frame index
	Sightings   int                    `json:"sightings"`
	Emotion     *smoother.Signal       `json:"emotion,omitempty"`
	Activity    *smoother.Signal       `json:"activity,omitempty"`
	Orientation perception.Orientation `json:"orientation,omitempty"`
}

// FrameResult is the outcome of processing one sampled frame
type FrameResult struct {
	Frame    int             `json:"frame"`
	Time     time.Duration   `json:"time"`
	Entities []EntityResult  `json:"entities"`
	Scene    scene.Context   `json:"scene"`
	Events   []rules.Event   `json:"events"`
	Failed   []string        `json:"failed,omitempty"` // Adapters that failed on this frame
	Stats    aggregate.Stats `json:"stats"`
}

// State is everything that is remembered across the frames of a run.
// A fresh State is created by every call to Configure.
type State struct {
	cfg             config.Config
	tracker         *tracker.Tracker
	smoother        *smoother.Smoother
	scene           *scene.Model
	baseline        *baseline.Tracker
	engine          *rules.Engine
	memory          *rules.ObjectMemory
	timings         *perfstats.TimingSet
	prevEntityCount int
	facesSeen       bool               // Once the face detector reports a face, entities are tracked by face
	departed        []tracker.Snapshot // Entities evicted during the run, as they were when they left
	lastSampled     int             // Index of the most recently processed frame, or -1
	lastRead        int             // Index of the most recently read frame, or -1
	lastTime        time.Duration   // Time of the most recently read frame
	warned          map[string]bool // Adapters or sinks that have already produced a warning this run
}

func newState(log logs.Log, cfg config.Config) *State {
	b := baseline.New(baseline.OptionsFromConfig(&cfg))
	return &State{
		cfg:         cfg,
		tracker:     tracker.New(log, tracker.OptionsFromConfig(&cfg)),
		smoother:    smoother.New(cfg.WindowSize),
		scene:       scene.NewModel(),
		baseline:    b,
		engine:      rules.NewEngine(&cfg, b),
		memory:      rules.NewObjectMemory(),
		timings:     perfstats.NewTimingSet(),
		lastSampled: -1,
		lastRead:    -1,
		warned:      map[string]bool{},
	}
}

// Pipeline analyzes a stream of frames.
// ProcessFrame and Run must only be called from a single goroutine. Pause, Resume,
// Cancel, RunningStats, and the watcher functions may be called from anywhere.
type Pipeline struct {
	Log logs.Log

	adapters   perception.Adapters
	sink       EventSink
	aggregator *aggregate.Aggregator
	state      *State

	pauseLock sync.Mutex
	pauseCond *sync.Cond
	paused    bool
	cancelled atomic.Bool

	watchersLock sync.RWMutex
	watchers     []chan Progress
	lastDropWarn time.Time
}

// New creates a pipeline. sink may be nil.
func New(log logs.Log, adapters perception.Adapters, sink EventSink) *Pipeline {
	p := &Pipeline{
		Log:        log,
		adapters:   adapters,
		sink:       sink,
		aggregator: aggregate.New(),
	}
	p.pauseCond = sync.NewCond(&p.pauseLock)
	return p
}

// Configure validates cfg and starts a new run. All state of a previous run is discarded.
func (p *Pipeline) Configure(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.state = newState(p.Log, cfg)
	p.aggregator.Reset()
	p.cancelled.Store(false)
	p.Log.Infof("Pipeline: Configured (stride %v, window %v, scene refresh %v)", cfg.SampleStride, cfg.WindowSize, cfg.SceneRefreshInterval())
	return nil
}

// Config returns the configuration of the current run
func (p *Pipeline) Config() (config.Config, bool) {
	if p.state == nil {
		return config.Config{}, false
	}
	return p.state.cfg, true
}

// RunningStats returns a snapshot of the totals of the current run
func (p *Pipeline) RunningStats() aggregate.Stats {
	return p.aggregator.Snapshot()
}

// Events returns the ordered event log of the current run
func (p *Pipeline) Events() []rules.Event {
	return p.aggregator.Events()
}

// NumEvents returns the length of the event log of the current run
func (p *Pipeline) NumEvents() int {
	return p.aggregator.NumEvents()
}

// Timings returns the time spent in each perception adapter during the current run
func (p *Pipeline) Timings() map[string]perfstats.TimingSummary {
	if p.state == nil {
		return map[string]perfstats.TimingSummary{}
	}
	return p.state.timings.Summary()
}

// Log a warning the first time that 'key' fails during a run
func (p *Pipeline) warnOnce(key string, format string, args ...any) {
	st := p.state
	if st.warned[key] {
		return
	}
	st.warned[key] = true
	msg := fmt.Sprintf(format, args...)
	p.Log.Warnf("Pipeline: %v", msg)
	p.sendToWatchers(Progress{Frame: st.lastRead, Warning: msg})
}

// ProcessFrame runs the full analysis on a single frame.
// The only error is ErrNotConfigured. Adapter failures are reported as missing signals.
func (p *Pipeline) ProcessFrame(frame *perception.Frame) (*FrameResult, error) {
	st := p.state
	if st == nil {
		return nil, ErrNotConfigured
	}
	cfg := &st.cfg

	framesRead := frame.Index - st.lastSampled
	if st.lastSampled < 0 || framesRead < 1 {
		framesRead = 1
	}
	st.lastSampled = frame.Index
	if frame.Index > st.lastRead {
		st.lastRead = frame.Index
		st.lastTime = frame.Time
	}

	obs := p.detect(frame)
	for _, name := range obs.Failed {
		p.warnOnce(name, "Adapter '%v' failed on frame %v, treating it as a missing signal: %v", name, frame.Index, obs.errors[name])
	}

	// Scene first, so that emotion weights use the scene of this frame
	if obs.Scene != nil {
		st.scene.Update(obs.Scene.Label, obs.Scene.Confidence, frame.Index, frame.Time)
	}
	sceneCtx := st.scene.Context()

	// People are tracked by face as soon as the face detector has reported a face.
	// Until then, they are tracked by the person boxes of the activity detector.
	if !st.facesSeen && len(obs.Faces) != 0 {
		st.facesSeen = true
		if st.tracker.TotalCreated() != 0 {
			p.Log.Infof("Pipeline: Switching to face tracking at frame %v", frame.Index)
		}
	}
	var people []geom.Rect
	byActivity := !st.facesSeen
	if byActivity {
		for _, a := range obs.Activities {
			people = append(people, a.Box)
		}
	} else {
		for _, f := range obs.Faces {
			people = append(people, f.Box)
		}
	}

	tracked := st.tracker.Update(people, frame.Index, frame.Time, frame.Width, frame.Height)
	for _, gone := range tracked.Evicted {
		st.smoother.Forget(gone.ID)
		st.baseline.Forget(gone.ID)
		st.departed = append(st.departed, gone)
	}

	activityBoxes := make([]geom.Rect, len(obs.Activities))
	for i, a := range obs.Activities {
		activityBoxes[i] = a.Box
	}
	orientationBoxes := make([]geom.Rect, len(obs.Orientations))
	for i, o := range obs.Orientations {
		orientationBoxes[i] = o.Box
	}

	entityBoxes := make([]geom.Rect, len(tracked.Matches))
	for i, m := range tracked.Matches {
		entityBoxes[i] = m.Box
	}
	var entityActivity []int
	if !byActivity {
		entityActivity = assign(entityBoxes, activityBoxes)
	}
	entityOrientation := assign(entityBoxes, orientationBoxes)

	counts := aggregate.FrameCounts{
		Frames: framesRead,
		Faces:  len(people),
		Scene:  sceneCtx.Label,
	}
	entities := make([]rules.EntityState, 0, len(tracked.Matches))
	results := make([]EntityResult, 0, len(tracked.Matches))

	for mi, m := range tracked.Matches {
		id := m.EntityID
		if m.New {
			counts.NewEntities++
		}
		st.baseline.Observe(id, m.Box.Center(), frame.Time)
		ent := rules.EntityState{ID: id, Box: m.Box}

		// Emotion
		if em := p.classifyEmotion(frame, m.Box, id); em != nil && em.Label != "" {
			conf := em.Confidence
			if cfg.SceneEmotionWeights {
				conf *= sceneCtx.EmotionWeight(em.Label)
			}
			st.smoother.Push(id, smoother.KindEmotion, em.Label, conf)
			st.tracker.RecordEmotion(id, em.Label)
			if sig, ok := st.smoother.Dominant(id, smoother.KindEmotion); ok {
				st.baseline.ObserveEmotion(id, sig.Label, sig.MeanConfidence)
				ent.Emotion = &sig
				counts.Emotions = append(counts.Emotions, sig.Label)
			}
		}

		// Activity
		actIdx := -1
		if byActivity {
			actIdx = m.Detection
		} else {
			actIdx = entityActivity[mi]
		}
		if actIdx >= 0 && obs.Activities[actIdx].Label != "" {
			act := &obs.Activities[actIdx]
			st.smoother.Push(id, smoother.KindActivity, act.Label, act.Confidence)
			st.tracker.RecordActivity(id, act.Label)
			if sig, ok := st.smoother.Dominant(id, smoother.KindActivity); ok {
				st.baseline.ObserveActivity(id, sig.Label)
				ent.Activity = &sig
				counts.Activities = append(counts.Activities, sig.Label)
			}
		}

		// Orientation
		if oi := entityOrientation[mi]; oi >= 0 {
			o := obs.Orientations[oi].Orientation
			if o != perception.OrientationUnknown {
				st.baseline.ObserveOrientation(id, o)
				ent.Orientation = o
			}
		}

		entities = append(entities, ent)
		snap, _ := st.tracker.Get(id)
		results = append(results, EntityResult{
			ID:          id,
			Box:         m.Box,
			New:         m.New,
			FirstSeen:   snap.FirstSeen,
			Sightings:   snap.Sightings,
			Emotion:     ent.Emotion,
			Activity:    ent.Activity,
			Orientation: ent.Orientation,
		})
		if cfg.Verbose {
			p.Log.Debugf("Pipeline: Frame %v entity %v box %v emotion %v activity %v orientation %v", frame.Index, id, m.Box, signalLabel(ent.Emotion), signalLabel(ent.Activity), ent.Orientation)
		}
	}

	for _, o := range obs.Objects {
		counts.Objects = append(counts.Objects, o.Category)
	}

	events := st.engine.Evaluate(rules.FrameInput{
		Frame:               frame.Index,
		Time:                frame.Time,
		Entities:            entities,
		PreviousEntityCount: st.prevEntityCount,
		Scene:               sceneCtx,
		Objects:             obs.Objects,
		Memory:              st.memory,
	})
	st.memory.Observe(obs.Objects, frame.Index)
	st.prevEntityCount = len(entities)

	p.aggregator.Record(events, counts)
	for _, e := range events {
		p.Log.Infof("Pipeline: %v anomaly at %.2fs: %v", e.Severity, e.Time.Seconds(), e.Description)
	}
	if p.sink != nil && len(events) != 0 {
		if err := p.sink.WriteEvents(events); err != nil {
			p.warnOnce("sink", "Failed to store events: %v", err)
		}
	}

	return &FrameResult{
		Frame:    frame.Index,
		Time:     frame.Time,
		Entities: results,
		Scene:    sceneCtx,
		Events:   events,
		Failed:   obs.Failed,
		Stats:    p.aggregator.Snapshot(),
	}, nil
}

func signalLabel(s *smoother.Signal) string {
	if s == nil {
		return "-"
	}
	return s.Label
}

// Minimum overlap for an activity or orientation box to belong to an entity
const minAssociationIOU = 0.1

// assign pairs each entity box with at most one candidate box, and each candidate with
// at most one entity. The pairs with the highest overlap are taken first. An entity
// that is left over gets the smallest unused candidate that contains its centre, which
// pairs a face with its person box. The result holds a candidate index per entity, or -1.
func assign(boxes []geom.Rect, candidates []geom.Rect) []int {
	out := make([]int, len(boxes))
	for i := range out {
		out[i] = -1
	}
	used := make([]bool, len(candidates))

	type pair struct {
		box  int
		cand int
		iou  float32
	}
	pairs := []pair{}
	for i, b := range boxes {
		for j, c := range candidates {
			if iou := b.IOU(c); iou > minAssociationIOU {
				pairs = append(pairs, pair{i, j, iou})
			}
		}
	}
	// Stable, so that ties keep entity order
	sort.SliceStable(pairs, func(a, b int) bool { return pairs[a].iou > pairs[b].iou })
	for _, p := range pairs {
		if out[p.box] >= 0 || used[p.cand] {
			continue
		}
		out[p.box] = p.cand
		used[p.cand] = true
	}

	for i, b := range boxes {
		if out[i] >= 0 {
			continue
		}
		center := b.Center()
		bestArea := int64(-1)
		for j, c := range candidates {
			if used[j] || !c.Contains(center) {
				continue
			}
			if bestArea < 0 || c.Area() < bestArea {
				out[i] = j
				bestArea = c.Area()
			}
		}
		if out[i] >= 0 {
			used[out[i]] = true
		}
	}
	return out
}
