package aggregate

import (
	"sync"
	"testing"

	"github.com/cyclopcam/vigil/server/rules"
	"github.com/stretchr/testify/require"
)

func requireNotLess(t *testing.T, before, after Stats) {
	require.GreaterOrEqual(t, after.Frames, before.Frames)
	require.GreaterOrEqual(t, after.SampledFrames, before.SampledFrames)
	require.GreaterOrEqual(t, after.Faces, before.Faces)
	require.GreaterOrEqual(t, after.UniqueEntities, before.UniqueEntities)
	for _, pair := range [][2]map[string]int64{
		{before.Emotions, after.Emotions},
		{before.Activities, after.Activities},
		{before.Anomalies, after.Anomalies},
		{before.Severities, after.Severities},
		{before.Objects, after.Objects},
		{before.Scenes, after.Scenes},
	} {
		for k, v := range pair[0] {
			require.GreaterOrEqual(t, pair[1][k], v, "counter %v decreased", k)
		}
	}
}

func TestMonotonic(t *testing.T) {
	a := New()
	prev := a.Snapshot()
	for i := 0; i < 50; i++ {
		var events []rules.Event
		if i%7 == 0 {
			events = append(events, rules.Event{Kind: rules.KindSuddenMotion, Severity: rules.SeverityHigh, Frame: i * 2, Description: "x"})
		}
		a.Record(events, FrameCounts{
			Frames:      2,
			Faces:       i % 3,
			NewEntities: i % 2,
			Emotions:    []string{"happy", "sad"}[:i%3%2+1],
			Activities:  []string{"walking"},
			Objects:     []string{"chair"},
			Scene:       "office",
		})
		cur := a.Snapshot()
		requireNotLess(t, prev, cur)
		prev = cur
	}
	require.Equal(t, int64(100), prev.Frames)
	require.Equal(t, int64(50), prev.SampledFrames)
	require.Equal(t, int64(8), prev.Anomalies["sudden_motion"])
	require.Equal(t, int64(8), prev.TotalAnomalies())
	require.Equal(t, int64(50), prev.Scenes["office"])
	require.Equal(t, 8, len(a.Events()))
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	a := New()
	a.Record(nil, FrameCounts{Frames: 1, Objects: []string{"cup"}})
	s := a.Snapshot()
	s.Objects["cup"] = 100
	require.Equal(t, int64(1), a.Snapshot().Objects["cup"])

	ev := []rules.Event{{Kind: rules.KindCrowd, Severity: rules.SeverityMedium, Description: "crowd"}}
	a.Record(ev, FrameCounts{Frames: 1})
	events := a.Events()
	events[0].Description = "changed"
	require.Equal(t, "crowd", a.Events()[0].Description)

	a.AddSkippedFrames(3)
	require.Equal(t, int64(5), a.Snapshot().Frames)

	a.Reset()
	require.Equal(t, Stats{
		Emotions:   map[string]int64{},
		Activities: map[string]int64{},
		Anomalies:  map[string]int64{},
		Severities: map[string]int64{},
		Objects:    map[string]int64{},
		Scenes:     map[string]int64{},
	}, a.Snapshot())
	require.Equal(t, 0, a.NumEvents())
}

func TestConcurrentSnapshots(t *testing.T) {
	a := New()
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			a.Record([]rules.Event{{Kind: rules.KindCrowd, Severity: rules.SeverityLow, Description: "c"}}, FrameCounts{Frames: 1, Emotions: []string{"neutral"}})
		}
	}()
	last := int64(0)
	for i := 0; i < 200; i++ {
		s := a.Snapshot()
		require.GreaterOrEqual(t, s.Emotions["neutral"], last)
		last = s.Emotions["neutral"]
	}
	wg.Wait()
	require.Equal(t, int64(1000), a.Snapshot().Anomalies["crowd"])
}
