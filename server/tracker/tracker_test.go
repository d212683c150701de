package tracker

import (
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vigil/pkg/geom"
	"github.com/cyclopcam/vigil/server/config"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, modify func(o *Options)) *Tracker {
	cfg := config.DefaultConfig()
	opt := OptionsFromConfig(&cfg)
	opt.Verbose = true
	if modify != nil {
		modify(&opt)
	}
	return New(logs.NewTestingLog(t), opt)
}

func box(x, y int32) geom.Rect {
	return geom.Rect{X: x, Y: y, Width: 40, Height: 40}
}

func frameTime(i int) time.Duration {
	return time.Duration(i) * 40 * time.Millisecond
}

func TestStableIdentity(t *testing.T) {
	tr := newTestTracker(t, nil)
	var id int64
	for i := 0; i < 20; i++ {
		res := tr.Update([]geom.Rect{box(100+int32(i)*3, 100)}, i, frameTime(i), 640, 480)
		require.Len(t, res.Matches, 1)
		if i == 0 {
			id = res.Matches[0].EntityID
			require.True(t, res.Matches[0].New)
		} else {
			require.Equal(t, id, res.Matches[0].EntityID)
			require.False(t, res.Matches[0].New)
		}
	}
	require.Equal(t, int64(1), tr.TotalCreated())
	snap, ok := tr.Get(id)
	require.True(t, ok)
	require.Equal(t, 20, snap.Sightings)
	require.Equal(t, 19, snap.LastSeen)
}

func TestTwoPeopleKeepTheirIdentities(t *testing.T) {
	tr := newTestTracker(t, nil)
	res := tr.Update([]geom.Rect{box(100, 100), box(400, 100)}, 0, 0, 640, 480)
	require.Len(t, res.Matches, 2)
	left, right := res.Matches[0].EntityID, res.Matches[1].EntityID
	require.NotEqual(t, left, right)

	// Present the detections in the opposite order
	res = tr.Update([]geom.Rect{box(405, 100), box(105, 100)}, 1, frameTime(1), 640, 480)
	require.Len(t, res.Matches, 2)
	require.Equal(t, right, res.Matches[0].EntityID)
	require.Equal(t, left, res.Matches[1].EntityID)
}

func TestGreedyPrefersBestOverlap(t *testing.T) {
	tr := newTestTracker(t, nil)
	res := tr.Update([]geom.Rect{box(100, 100)}, 0, 0, 640, 480)
	id := res.Matches[0].EntityID

	// Both detections could match the single entity. The one with the higher IOU wins,
	// even though it comes second, and the other becomes a new entity.
	res = tr.Update([]geom.Rect{box(120, 100), box(102, 100)}, 1, frameTime(1), 640, 480)
	require.Len(t, res.Matches, 2)
	require.Equal(t, 1, res.Matches[1].Detection)
	require.Equal(t, id, res.Matches[1].EntityID)
	require.True(t, res.Matches[0].New)
	require.NotEqual(t, id, res.Matches[0].EntityID)
}

func TestMalformedDetectionsDropped(t *testing.T) {
	tr := newTestTracker(t, nil)
	res := tr.Update([]geom.Rect{
		{X: 10, Y: 10, Width: 0, Height: 40},   // zero area
		{X: 10, Y: 10, Width: 40, Height: -5},  // negative
		{X: 900, Y: 900, Width: 40, Height: 40}, // entirely outside a 640x480 frame
		{X: 620, Y: 10, Width: 40, Height: 40},  // partially outside, clipped
	}, 0, 0, 640, 480)
	require.Len(t, res.Matches, 1)
	require.Equal(t, 3, res.Matches[0].Detection)
	require.Equal(t, int32(20), res.Matches[0].Box.Width)
	require.Len(t, tr.Alive(), 1)
}

func TestEvictionFreezesEntity(t *testing.T) {
	tr := newTestTracker(t, func(o *Options) { o.MissLimit = 2 })
	res := tr.Update([]geom.Rect{box(100, 100)}, 0, 0, 640, 480)
	id := res.Matches[0].EntityID
	tr.RecordEmotion(id, "sad")

	// Misses 1 and 2 are tolerated
	for i := 1; i <= 2; i++ {
		res = tr.Update(nil, i, frameTime(i), 640, 480)
		require.Empty(t, res.Evicted)
		require.Len(t, tr.Alive(), 1)
	}
	// Miss 3 exceeds the limit
	res = tr.Update(nil, 3, frameTime(3), 640, 480)
	require.Len(t, res.Evicted, 1)
	frozen := res.Evicted[0]
	require.Equal(t, id, frozen.ID)
	require.Equal(t, 3, frozen.Misses)
	require.Equal(t, map[string]int{"sad": 1}, frozen.Emotions)
	require.Empty(t, tr.Alive())

	_, ok := tr.Get(id)
	require.False(t, ok)

	// Writes to an evicted entity go nowhere, and the frozen snapshot is unaffected
	tr.RecordEmotion(id, "angry")
	require.Equal(t, map[string]int{"sad": 1}, frozen.Emotions)

	// A person reappearing at the same spot is a new entity with a new ID
	res = tr.Update([]geom.Rect{box(100, 100)}, 4, frameTime(4), 640, 480)
	require.True(t, res.Matches[0].New)
	require.Greater(t, res.Matches[0].EntityID, id)
}

func TestHistoriesAreBounded(t *testing.T) {
	tr := newTestTracker(t, func(o *Options) {
		o.PositionHistorySize = 5
		o.LabelHistorySize = 3
	})
	var id int64
	for i := 0; i < 50; i++ {
		res := tr.Update([]geom.Rect{box(100, 100)}, i, frameTime(i), 640, 480)
		id = res.Matches[0].EntityID
		tr.RecordActivity(id, "walking")
		snap, _ := tr.Get(id)
		require.LessOrEqual(t, len(snap.Positions), 5)
		require.LessOrEqual(t, snap.Activities["walking"], 3)
	}
	snap, _ := tr.Get(id)
	require.Len(t, snap.Positions, 5)
	require.Equal(t, 45, snap.Positions[0].Frame)
	require.Equal(t, 49, snap.Positions[4].Frame)
}

func TestFarDetectionIsNewEntity(t *testing.T) {
	tr := newTestTracker(t, nil)
	res := tr.Update([]geom.Rect{box(10, 10)}, 0, 0, 640, 480)
	first := res.Matches[0].EntityID
	res = tr.Update([]geom.Rect{box(500, 400)}, 1, frameTime(1), 640, 480)
	require.True(t, res.Matches[0].New)
	require.NotEqual(t, first, res.Matches[0].EntityID)
	require.Len(t, tr.Alive(), 2)
}
