// Package rules turns the per-frame state of entities and scene into anomaly events.
//
// The engine holds no state of its own. Anything that must only happen once, such as
// the onset of inactivity or the appearance of a new object, is latched by the baseline
// tracker or the object memory, which the pipeline advances before (baseline) and after
// (object memory) evaluation. Evaluating the same frame twice produces identical events.
package rules

import (
	"fmt"
	"time"

	"github.com/cyclopcam/vigil/pkg/geom"
	"github.com/cyclopcam/vigil/server/baseline"
	"github.com/cyclopcam/vigil/server/config"
	"github.com/cyclopcam/vigil/server/perception"
	"github.com/cyclopcam/vigil/server/scene"
	"github.com/cyclopcam/vigil/server/smoother"
)

// EntityState is what the engine knows about one entity on this frame.
// A nil signal, or an unknown orientation, means that no data is available,
// and the rules that depend on it are skipped.
type EntityState struct {
	ID          int64
	Box         geom.Rect
	Emotion     *smoother.Signal
	Activity    *smoother.Signal
	Orientation perception.Orientation
}

// FrameInput is everything the engine needs to evaluate one sampled frame
type FrameInput struct {
	Frame               int
	Time                time.Duration
	Entities            []EntityState
	PreviousEntityCount int // Number of entities visible on the previous sampled frame
	Scene               scene.Context
	Objects             []perception.Object
	Memory              *ObjectMemory // Objects seen on previous frames. May be nil.
}

type Engine struct {
	cfg                config.Config
	baseline           *baseline.Tracker
	inactivitySeverity Severity
}

// NewEngine creates a rule engine that reads per-entity history from b.
// The config is assumed to be valid, but an unparseable inactivity severity
// falls back to Medium.
func NewEngine(cfg *config.Config, b *baseline.Tracker) *Engine {
	sev, err := ParseSeverity(cfg.InactivitySeverity)
	if err != nil {
		sev = SeverityMedium
	}
	return &Engine{
		cfg:                *cfg,
		baseline:           b,
		inactivitySeverity: sev,
	}
}

type firingKey struct {
	kind     Kind
	entity   int64
	category string
}

// A single evaluation pass
type evaluation struct {
	in     *FrameInput
	fired  map[firingKey]bool
	events []Event
}

func (ev *evaluation) emit(e Event) {
	key := firingKey{e.Kind, e.EntityID, e.Category}
	if ev.fired[key] {
		return
	}
	ev.fired[key] = true
	e.Frame = ev.in.Frame
	e.Time = ev.in.Time
	ev.events = append(ev.events, e)
}

// Evaluate runs every enabled rule over the frame, in a fixed order, and returns the
// events that fired. Each rule fires at most once per entity, or per object category
// for scene level rules.
func (e *Engine) Evaluate(in FrameInput) []Event {
	ev := &evaluation{
		in:    &in,
		fired: map[firingKey]bool{},
	}
	rules := &e.cfg.Rules
	if rules.SuddenMotion {
		e.suddenMotion(ev)
	}
	if rules.EmotionPersistence {
		e.emotionPersistence(ev)
	}
	if rules.Inactivity {
		e.inactivity(ev)
	}
	if rules.Orientation {
		e.orientation(ev)
	}
	if rules.SceneObject {
		e.sceneObjects(ev)
	}
	if rules.Overlay {
		e.overlays(ev)
	}
	if rules.EmotionSpike {
		e.emotionSpike(ev)
	}
	if rules.UnusualActivity {
		e.unusualActivity(ev)
	}
	if rules.Crowd {
		e.crowd(ev)
	}
	return ev.events
}

func (e *Engine) suddenMotion(ev *evaluation) {
	for _, ent := range ev.in.Entities {
		sudden, ratio := e.baseline.IsSuddenMotion(ent.ID)
		if !sudden {
			continue
		}
		v, _ := e.baseline.Velocity(ent.ID)
		sev := SeverityHigh
		if ratio < 2 {
			sev = SeverityLow
		} else if ratio < 4 {
			sev = SeverityMedium
		}
		ev.emit(Event{
			Kind:        KindSuddenMotion,
			Severity:    sev,
			EntityID:    ent.ID,
			Score:       ratio,
			Description: fmt.Sprintf("Sudden movement: person %v moving at %.0f px/s, %.1fx their adaptive threshold", ent.ID, v, ratio),
		})
	}
}

func (e *Engine) emotionPersistence(ev *evaluation) {
	minStreak := e.cfg.NegativeEmotionStreak
	for _, ent := range ev.in.Entities {
		if ent.Emotion == nil {
			continue
		}
		streak := e.baseline.EmotionTrend(ent.ID)
		sev := Severity(0)
		if streak == minStreak {
			sev = SeverityMedium
		} else if e.cfg.EmotionEscalation && (streak == 2*minStreak || streak == 3*minStreak) {
			sev = SeverityHigh
		}
		if sev == 0 {
			continue
		}
		ev.emit(Event{
			Kind:        KindNegativeEmotion,
			Severity:    sev,
			EntityID:    ent.ID,
			Score:       ent.Emotion.MeanConfidence,
			Description: fmt.Sprintf("Negative emotion persistence: person %v has shown negative emotion (%v) for %v consecutive observations", ent.ID, ent.Emotion.Label, streak),
		})
	}
}

func (e *Engine) inactivity(ev *evaluation) {
	for _, ent := range ev.in.Entities {
		if !e.baseline.InactivityOnset(ent.ID) {
			continue
		}
		still := e.baseline.StillFor(ent.ID)
		ev.emit(Event{
			Kind:        KindInactivity,
			Severity:    e.inactivitySeverity,
			EntityID:    ent.ID,
			Score:       float32(still.Seconds()),
			Description: fmt.Sprintf("Prolonged inactivity: person %v has not moved for %.1f seconds", ent.ID, still.Seconds()),
		})
	}
}

func (e *Engine) orientation(ev *evaluation) {
	sc := &ev.in.Scene
	if !sc.Valid {
		return
	}
	allowed, known := sc.LyingAllowed()
	if !known || allowed {
		return
	}
	for _, ent := range ev.in.Entities {
		if ent.Orientation != perception.OrientationLying || !e.baseline.LyingOnset(ent.ID) {
			continue
		}
		ev.emit(Event{
			Kind:        KindOrientation,
			Severity:    SeverityHigh,
			EntityID:    ent.ID,
			Score:       1,
			Description: fmt.Sprintf("Person %v is lying down in a %v scene, possible fall or medical event", ent.ID, sc.Label),
		})
	}
}

// Returns the most confident object of each category, in order of first appearance
func strongestByCategory(objects []perception.Object, include func(o *perception.Object) bool) []perception.Object {
	idx := map[string]int{}
	out := []perception.Object{}
	for i := range objects {
		o := &objects[i]
		if o.Category == "" || !include(o) {
			continue
		}
		if j, ok := idx[o.Category]; ok {
			if o.Confidence > out[j].Confidence {
				out[j] = *o
			}
			continue
		}
		idx[o.Category] = len(out)
		out = append(out, *o)
	}
	return out
}

func (e *Engine) sceneObjects(ev *evaluation) {
	sc := &ev.in.Scene
	if !sc.Valid || !sc.Known {
		return
	}
	all := func(o *perception.Object) bool { return true }
	for _, o := range strongestByCategory(ev.in.Objects, all) {
		if o.Category == "person" {
			continue
		}
		if ev.in.Memory.SeenWithin(o.Category, ev.in.Frame, e.cfg.NoveltyWindowFrames) {
			continue
		}
		var desc string
		if sc.IsForbidden(o.Category) {
			desc = fmt.Sprintf("Object '%v' does not belong in a %v scene (confidence %.2f)", o.Category, sc.Label, o.Confidence)
		} else if !sc.IsExpected(o.Category) && o.Confidence >= e.cfg.NoveltyMinConfidence {
			desc = fmt.Sprintf("Unexpected object '%v' appeared in a %v scene (confidence %.2f)", o.Category, sc.Label, o.Confidence)
		} else {
			continue
		}
		ev.emit(Event{
			Kind:        KindSceneObject,
			Severity:    severityFromScore(o.Confidence),
			Category:    o.Category,
			Score:       o.Confidence,
			Description: desc,
		})
	}
}

func (e *Engine) overlays(ev *evaluation) {
	flagged := func(o *perception.Object) bool { return o.Overlay != nil }
	for _, o := range strongestByCategory(ev.in.Objects, flagged) {
		if ev.in.Memory.OverlaySeenWithin(o.Category, ev.in.Frame, e.cfg.NoveltyWindowFrames) {
			continue
		}
		reason := o.Overlay.Reason
		if reason == "" {
			reason = string(o.Overlay.Kind)
		}
		ev.emit(Event{
			Kind:        KindOverlay,
			Severity:    severityFromScore(o.Overlay.Score),
			Category:    o.Category,
			Score:       o.Overlay.Score,
			Description: fmt.Sprintf("Visual overlay: '%v' %v", o.Category, reason),
		})
	}
}

func (e *Engine) emotionSpike(ev *evaluation) {
	for _, ent := range ev.in.Entities {
		if ent.Emotion == nil {
			continue
		}
		prev, cur, conf := e.baseline.EmotionChange(ent.ID)
		if prev == "" || prev == cur || baseline.IsNegativeEmotion(prev) || !baseline.IsNegativeEmotion(cur) {
			continue
		}
		if conf < e.cfg.EmotionSpikeConfidence {
			continue
		}
		ev.emit(Event{
			Kind:        KindEmotionSpike,
			Severity:    SeverityMedium,
			EntityID:    ent.ID,
			Score:       conf,
			Description: fmt.Sprintf("Emotion spike: person %v changed from %v to %v (confidence %.2f)", ent.ID, prev, cur, conf),
		})
	}
}

func (e *Engine) unusualActivity(ev *evaluation) {
	for _, ent := range ev.in.Entities {
		if ent.Activity == nil {
			continue
		}
		prev, cur := e.baseline.ActivityChange(ent.ID)
		if cur == "" || prev == cur {
			continue
		}
		freq, n := e.baseline.ActivityFrequency(ent.ID, cur)
		if n < e.cfg.UnusualActivityMinHistory || freq >= e.cfg.UnusualActivityMaxFrequency {
			continue
		}
		ev.emit(Event{
			Kind:        KindUnusualActivity,
			Severity:    SeverityLow,
			EntityID:    ent.ID,
			Score:       1 - freq,
			Description: fmt.Sprintf("Unusual activity: person %v started %v, which is %.0f%% of their last %v observations", ent.ID, cur, freq*100, n),
		})
	}
}

func (e *Engine) crowd(ev *evaluation) {
	threshold := e.cfg.CrowdThreshold
	count := len(ev.in.Entities)
	if threshold <= 0 || count <= threshold || ev.in.PreviousEntityCount > threshold {
		return
	}
	sev := SeverityMedium
	if count >= 2*threshold {
		sev = SeverityHigh
	}
	ev.emit(Event{
		Kind:        KindCrowd,
		Severity:    sev,
		Score:       float32(count) / float32(threshold),
		Description: fmt.Sprintf("Crowd: %v people visible (threshold %v)", count, threshold),
	})
}
