package rules

import (
	"testing"
	"time"

	"github.com/cyclopcam/vigil/pkg/geom"
	"github.com/cyclopcam/vigil/server/baseline"
	"github.com/cyclopcam/vigil/server/config"
	"github.com/cyclopcam/vigil/server/perception"
	"github.com/cyclopcam/vigil/server/scene"
	"github.com/cyclopcam/vigil/server/smoother"
	"github.com/stretchr/testify/require"
)

const frameInterval = 40 * time.Millisecond

type harness struct {
	cfg      config.Config
	baseline *baseline.Tracker
	engine   *Engine
}

func newHarness(modify func(c *config.Config)) *harness {
	cfg := config.DefaultConfig()
	if modify != nil {
		modify(&cfg)
	}
	b := baseline.New(baseline.OptionsFromConfig(&cfg))
	return &harness{
		cfg:      cfg,
		baseline: b,
		engine:   NewEngine(&cfg, b),
	}
}

func makeScene(label string) scene.Context {
	m := scene.NewModel()
	m.Update(label, 0.9, 0, 0)
	return m.Context()
}

func countKind(events []Event, kind Kind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestKindAndSeverityNames(t *testing.T) {
	for _, k := range AllKinds {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		require.Equal(t, k, parsed)
	}
	_, err := ParseKind("bogus")
	require.Error(t, err)

	require.Less(t, SeverityLow, SeverityMedium)
	require.Less(t, SeverityMedium, SeverityHigh)
	s, err := ParseSeverity("high")
	require.NoError(t, err)
	require.Equal(t, SeverityHigh, s)
	require.False(t, Severity(0).Valid())

	j, err := KindCrowd.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"crowd"`, string(j))
}

func TestForbiddenObjectInOffice(t *testing.T) {
	h := newHarness(nil)
	mem := NewObjectMemory()
	objects := []perception.Object{
		{Box: geom.MakeRect(10, 10, 200, 100), Category: "bed", Confidence: 0.9},
		{Box: geom.MakeRect(300, 10, 350, 60), Category: "chair", Confidence: 0.95},
	}
	in := FrameInput{
		Frame:   0,
		Scene:   makeScene("office"),
		Objects: objects,
		Memory:  mem,
	}
	events := h.engine.Evaluate(in)
	require.Equal(t, 1, len(events))
	require.Equal(t, KindSceneObject, events[0].Kind)
	require.Equal(t, SeverityHigh, events[0].Severity)
	require.Equal(t, "bed", events[0].Category)
	require.NotEmpty(t, events[0].Description)

	// The bed stays in view, so it must not fire again
	mem.Observe(objects, 0)
	for frame := 2; frame < 20; frame += 2 {
		in.Frame = frame
		require.Empty(t, h.engine.Evaluate(in))
		mem.Observe(objects, frame)
	}

	// Once it has been gone for longer than the novelty window, it fires again
	in.Frame = 18 + h.cfg.NoveltyWindowFrames + 1
	require.Equal(t, 1, countKind(h.engine.Evaluate(in), KindSceneObject))
}

func TestNovelObject(t *testing.T) {
	h := newHarness(nil)
	in := FrameInput{
		Scene: makeScene("office"),
		Objects: []perception.Object{
			{Category: "umbrella", Confidence: 0.6},
			{Category: "kite", Confidence: 0.75},
			{Category: "kite", Confidence: 0.85},
		},
	}
	events := h.engine.Evaluate(in)
	// umbrella is below the novelty confidence
	require.Equal(t, 1, len(events))
	require.Equal(t, "kite", events[0].Category)
	require.Equal(t, SeverityHigh, events[0].Severity)
	require.Equal(t, float32(0.85), events[0].Score)

	// An unknown scene imposes no constraints
	in.Scene = makeScene("spaceship")
	require.Empty(t, h.engine.Evaluate(in))
}

func TestSuddenMotionHigh(t *testing.T) {
	h := newHarness(nil)
	ents := []EntityState{{ID: 1}}
	x := float32(100)
	frame := 0
	var events []Event
	for i := 0; i < 10; i++ {
		x += 2
		h.baseline.Observe(1, geom.Point{X: x, Y: 100}, time.Duration(frame)*frameInterval)
		events = h.engine.Evaluate(FrameInput{Frame: frame, Entities: ents})
		require.Empty(t, events)
		frame++
	}
	x += 40
	h.baseline.Observe(1, geom.Point{X: x, Y: 100}, time.Duration(frame)*frameInterval)
	events = h.engine.Evaluate(FrameInput{Frame: frame, Entities: ents})
	require.Equal(t, 1, len(events))
	require.Equal(t, KindSuddenMotion, events[0].Kind)
	require.Equal(t, SeverityHigh, events[0].Severity)
	require.Equal(t, int64(1), events[0].EntityID)
	require.Equal(t, frame, events[0].Frame)
}

func TestNegativeEmotionStreak(t *testing.T) {
	h := newHarness(nil)
	fired := []int{}
	for i := 1; i <= 6; i++ {
		h.baseline.ObserveEmotion(1, "sad", 0.8)
		sig := &smoother.Signal{Label: "sad", Proportion: 1, MeanConfidence: 0.8, Samples: i}
		events := h.engine.Evaluate(FrameInput{Frame: i, Entities: []EntityState{{ID: 1, Emotion: sig}}})
		if countKind(events, KindNegativeEmotion) != 0 {
			require.Equal(t, SeverityMedium, events[0].Severity)
			fired = append(fired, i)
		}
	}
	require.Equal(t, []int{5}, fired)
}

func TestNegativeEmotionEscalation(t *testing.T) {
	h := newHarness(func(c *config.Config) {
		c.NegativeEmotionStreak = 3
		c.EmotionEscalation = true
	})
	severities := map[int]Severity{}
	for i := 1; i <= 12; i++ {
		h.baseline.ObserveEmotion(1, "angry", 0.9)
		sig := &smoother.Signal{Label: "angry", Proportion: 1, MeanConfidence: 0.9, Samples: 5}
		for _, e := range h.engine.Evaluate(FrameInput{Frame: i, Entities: []EntityState{{ID: 1, Emotion: sig}}}) {
			if e.Kind == KindNegativeEmotion {
				severities[i] = e.Severity
			}
		}
	}
	require.Equal(t, map[int]Severity{3: SeverityMedium, 6: SeverityHigh, 9: SeverityHigh}, severities)
}

func TestMissingSignalSkipsRule(t *testing.T) {
	h := newHarness(func(c *config.Config) {
		c.NegativeEmotionStreak = 1
	})
	h.baseline.ObserveEmotion(1, "sad", 0.8)
	// No emotion signal this frame
	require.Empty(t, h.engine.Evaluate(FrameInput{Entities: []EntityState{{ID: 1}}}))
}

func TestInactivityOnce(t *testing.T) {
	h := newHarness(func(c *config.Config) {
		c.InactivitySeconds = 5
		c.InactivitySeverity = "high"
	})
	ents := []EntityState{{ID: 1}}
	total := 0
	// 6 seconds, motionless
	for frame := 0; frame < 150; frame++ {
		h.baseline.Observe(1, geom.Point{X: 100, Y: 100}, time.Duration(frame)*frameInterval)
		for _, e := range h.engine.Evaluate(FrameInput{Frame: frame, Entities: ents}) {
			require.Equal(t, KindInactivity, e.Kind)
			require.Equal(t, SeverityHigh, e.Severity)
			total++
		}
	}
	require.Equal(t, 1, total)
}

func TestOrientation(t *testing.T) {
	h := newHarness(nil)
	ents := []EntityState{{ID: 1, Orientation: perception.OrientationLying}}
	h.baseline.ObserveOrientation(1, perception.OrientationStanding)
	h.baseline.ObserveOrientation(1, perception.OrientationLying)

	events := h.engine.Evaluate(FrameInput{Entities: ents, Scene: makeScene("office")})
	require.Equal(t, 1, len(events))
	require.Equal(t, KindOrientation, events[0].Kind)
	require.Equal(t, SeverityHigh, events[0].Severity)

	// Lying is normal in a bedroom, and can't be judged in an unknown scene
	require.Empty(t, h.engine.Evaluate(FrameInput{Entities: ents, Scene: makeScene("bedroom")}))
	require.Empty(t, h.engine.Evaluate(FrameInput{Entities: ents, Scene: makeScene("spaceship")}))
	require.Empty(t, h.engine.Evaluate(FrameInput{Entities: ents}))

	// Still lying on the next observation
	h.baseline.ObserveOrientation(1, perception.OrientationLying)
	require.Empty(t, h.engine.Evaluate(FrameInput{Entities: ents, Scene: makeScene("office")}))
}

func TestOverlay(t *testing.T) {
	h := newHarness(nil)
	objects := []perception.Object{
		{Category: "tv", Confidence: 0.9, Overlay: &perception.OverlayFlag{Kind: perception.OverlayScreenCorner, Reason: "is a screen in the top corner", Score: 0.55}},
	}
	events := h.engine.Evaluate(FrameInput{Objects: objects})
	require.Equal(t, 1, len(events))
	require.Equal(t, KindOverlay, events[0].Kind)
	require.Equal(t, SeverityMedium, events[0].Severity)
	require.Contains(t, events[0].Description, "top corner")
}

func TestEmotionSpikeAndUnusualActivity(t *testing.T) {
	h := newHarness(nil)
	h.baseline.ObserveEmotion(1, "happy", 0.9)
	h.baseline.ObserveEmotion(1, "angry", 0.8)
	for i := 0; i < 15; i++ {
		h.baseline.ObserveActivity(1, "walking")
	}
	h.baseline.ObserveActivity(1, "jumping")
	ent := EntityState{
		ID:       1,
		Emotion:  &smoother.Signal{Label: "angry", Proportion: 0.6, MeanConfidence: 0.8, Samples: 5},
		Activity: &smoother.Signal{Label: "jumping", Proportion: 0.6, MeanConfidence: 0.8, Samples: 5},
	}
	events := h.engine.Evaluate(FrameInput{Entities: []EntityState{ent}})
	require.Equal(t, 2, len(events))
	require.Equal(t, KindEmotionSpike, events[0].Kind)
	require.Equal(t, SeverityMedium, events[0].Severity)
	require.Equal(t, KindUnusualActivity, events[1].Kind)
	require.Equal(t, SeverityLow, events[1].Severity)
}

func TestCrowd(t *testing.T) {
	h := newHarness(func(c *config.Config) {
		c.CrowdThreshold = 3
	})
	ents := []EntityState{}
	for i := 1; i <= 6; i++ {
		ents = append(ents, EntityState{ID: int64(i)})
	}
	events := h.engine.Evaluate(FrameInput{Entities: ents[:4], PreviousEntityCount: 3})
	require.Equal(t, 1, len(events))
	require.Equal(t, SeverityMedium, events[0].Severity)

	events = h.engine.Evaluate(FrameInput{Entities: ents, PreviousEntityCount: 2})
	require.Equal(t, 1, len(events))
	require.Equal(t, SeverityHigh, events[0].Severity)

	// Already a crowd on the previous frame
	require.Empty(t, h.engine.Evaluate(FrameInput{Entities: ents, PreviousEntityCount: 4}))
}

func TestEvaluateIsIdempotent(t *testing.T) {
	h := newHarness(func(c *config.Config) {
		c.NegativeEmotionStreak = 1
	})
	h.baseline.ObserveEmotion(1, "sad", 0.9)
	h.baseline.ObserveOrientation(1, perception.OrientationLying)
	in := FrameInput{
		Frame:    4,
		Time:     4 * frameInterval,
		Entities: []EntityState{{ID: 1, Emotion: &smoother.Signal{Label: "sad", Proportion: 1, MeanConfidence: 0.9, Samples: 1}, Orientation: perception.OrientationLying}},
		Scene:    makeScene("office"),
		Objects:  []perception.Object{{Category: "bed", Confidence: 0.7}},
		Memory:   NewObjectMemory(),
	}
	first := h.engine.Evaluate(in)
	second := h.engine.Evaluate(in)
	require.NotEmpty(t, first)
	require.Equal(t, first, second)
	for _, e := range first {
		require.NotEmpty(t, e.Description)
		require.True(t, e.Severity.Valid())
	}
}

func TestDisabledRules(t *testing.T) {
	h := newHarness(func(c *config.Config) {
		c.Rules = config.RuleToggles{}
	})
	in := FrameInput{
		Scene:   makeScene("office"),
		Objects: []perception.Object{{Category: "bed", Confidence: 0.9}},
	}
	require.Empty(t, h.engine.Evaluate(in))
}
