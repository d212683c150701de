// Package tracker assigns stable identities to people across frames, using only
// the spatial relationship between detections in consecutive sampled frames.
package tracker

import (
	"sort"
	"time"

	"github.com/bmharper/flatbush-go"
	"github.com/chewxy/math32"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/vigil/pkg/geom"
	"github.com/cyclopcam/vigil/pkg/idgen"
	"github.com/cyclopcam/vigil/pkg/window"
	"github.com/cyclopcam/vigil/server/config"
)

type Options struct {
	MissLimit           int
	MinIOU              float32
	MaxMatchDistance    float32 // 0 = derived from the search buffer
	SearchFraction      float32
	PositionHistorySize int
	LabelHistorySize    int
	Verbose             bool
}

func OptionsFromConfig(c *config.Config) Options {
	return Options{
		MissLimit:           c.MissLimit,
		MinIOU:              c.MinIOU,
		MaxMatchDistance:    c.MaxMatchDistance,
		SearchFraction:      c.SearchFraction,
		PositionHistorySize: c.PositionHistorySize,
		LabelHistorySize:    c.LabelHistorySize,
		Verbose:             c.Verbose,
	}
}

// Sample is the position of an entity at one moment
type Sample struct {
	Position geom.Point    `json:"position"`
	Time     time.Duration `json:"time"`
	Frame    int           `json:"frame"`
}

// Entity is a person that we're tracking.
// Entities are owned by the Tracker. Everybody else sees Snapshots.
type Entity struct {
	ID         int64
	Box        geom.Rect
	FirstSeen  int // Frame index
	LastSeen   int // Frame index
	Misses     int // Consecutive sampled frames without a match
	Sightings  int
	positions  *window.Window[Sample]
	emotions   *window.Window[string]
	activities *window.Window[string]
}

// Snapshot is an immutable copy of an Entity
type Snapshot struct {
	ID         int64          `json:"id"`
	Box        geom.Rect      `json:"box"`
	FirstSeen  int            `json:"firstSeen"`
	LastSeen   int            `json:"lastSeen"`
	Misses     int            `json:"misses"`
	Sightings  int            `json:"sightings"`
	Positions  []Sample       `json:"positions"`
	Emotions   map[string]int `json:"emotions"`   // Histogram of recent emotion labels
	Activities map[string]int `json:"activities"` // Histogram of recent activity labels
}

func histogram(w *window.Window[string]) map[string]int {
	h := map[string]int{}
	for i := 0; i < w.Len(); i++ {
		h[w.Get(i)]++
	}
	return h
}

func (e *Entity) Snapshot() Snapshot {
	return Snapshot{
		ID:         e.ID,
		Box:        e.Box,
		FirstSeen:  e.FirstSeen,
		LastSeen:   e.LastSeen,
		Misses:     e.Misses,
		Sightings:  e.Sightings,
		Positions:  e.positions.Items(),
		Emotions:   histogram(e.emotions),
		Activities: histogram(e.activities),
	}
}

// Match links a detection (by its index in the Update input) to an entity
type Match struct {
	EntityID  int64
	Detection int
	Box       geom.Rect // Detection box, clipped to the frame
	New       bool      // True if the entity was created by this detection
}

type Result struct {
	Matches []Match
	Evicted []Snapshot // Entities that were removed during this update. Their stats are final.
}

type Tracker struct {
	log     logs.Log
	options Options
	ids     idgen.Int64
	alive   []*Entity
}

func New(log logs.Log, options Options) *Tracker {
	return &Tracker{
		log:     log,
		options: options,
	}
}

// Number of entities ever created
func (t *Tracker) TotalCreated() int64 {
	return t.ids.Last()
}

// Alive returns snapshots of all live entities, in creation order
func (t *Tracker) Alive() []Snapshot {
	out := make([]Snapshot, len(t.alive))
	for i, e := range t.alive {
		out[i] = e.Snapshot()
	}
	return out
}

func (t *Tracker) find(id int64) *Entity {
	for _, e := range t.alive {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// Get returns a snapshot of a live entity
func (t *Tracker) Get(id int64) (Snapshot, bool) {
	e := t.find(id)
	if e == nil {
		return Snapshot{}, false
	}
	return e.Snapshot(), true
}

// RecordEmotion appends to the entity's bounded emotion history
func (t *Tracker) RecordEmotion(id int64, label string) {
	if e := t.find(id); e != nil {
		e.emotions.Add(label)
	}
}

// RecordActivity appends to the entity's bounded activity history
func (t *Tracker) RecordActivity(id int64, label string) {
	if e := t.find(id); e != nil {
		e.activities.Add(label)
	}
}

type candidate struct {
	detection int
	entity    int
	score     float32
}

// Update is match-or-create for one sampled frame.
// frameWidth and frameHeight may be zero if unknown, in which case no clipping is done.
func (t *Tracker) Update(detections []geom.Rect, frameIdx int, frameTime time.Duration, frameWidth, frameHeight int) Result {
	// Drop malformed detections. The rest are clipped to the frame.
	valid := make([]int, 0, len(detections))
	boxes := make([]geom.Rect, len(detections))
	for i, d := range detections {
		if frameWidth > 0 && frameHeight > 0 {
			d = d.ClipTo(frameWidth, frameHeight)
		}
		if d.IsEmpty() {
			continue
		}
		boxes[i] = d
		valid = append(valid, i)
	}

	candidates := t.findCandidates(valid, boxes, frameWidth)

	// Greedy assignment by descending score
	sort.Slice(candidates, func(a, b int) bool {
		ca, cb := &candidates[a], &candidates[b]
		if ca.score != cb.score {
			return ca.score > cb.score
		}
		if ca.detection != cb.detection {
			return ca.detection < cb.detection
		}
		return t.alive[ca.entity].ID < t.alive[cb.entity].ID
	})
	detToEntity := map[int]int{}
	entityMatched := make([]bool, len(t.alive))
	for _, c := range candidates {
		if entityMatched[c.entity] {
			continue
		}
		if _, taken := detToEntity[c.detection]; taken {
			continue
		}
		entityMatched[c.entity] = true
		detToEntity[c.detection] = c.entity
	}

	result := Result{}
	nExisting := len(t.alive)
	for _, i := range valid {
		box := boxes[i]
		j, ok := detToEntity[i]
		isNew := !ok
		if isNew {
			e := &Entity{
				ID:         t.ids.Next(),
				FirstSeen:  frameIdx,
				positions:  window.New[Sample](t.options.PositionHistorySize),
				emotions:   window.New[string](t.options.LabelHistorySize),
				activities: window.New[string](t.options.LabelHistorySize),
			}
			t.alive = append(t.alive, e)
			j = len(t.alive) - 1
			if t.options.Verbose {
				c := box.Center()
				t.log.Infof("Tracker: New entity %v at %.0f,%.0f (frame %v)", e.ID, c.X, c.Y, frameIdx)
			}
		}
		e := t.alive[j]
		e.Box = box
		e.LastSeen = frameIdx
		e.Misses = 0
		e.Sightings++
		e.positions.Add(Sample{
			Position: box.Center(),
			Time:     frameTime,
			Frame:    frameIdx,
		})
		result.Matches = append(result.Matches, Match{
			EntityID:  e.ID,
			Detection: i,
			Box:       box,
			New:       isNew,
		})
	}

	// Age and evict the entities that were not seen
	remain := t.alive[:0]
	for j, e := range t.alive {
		if j < nExisting && !entityMatched[j] {
			e.Misses++
			if e.Misses > t.options.MissLimit {
				if t.options.Verbose {
					t.log.Infof("Tracker: Evicting entity %v after %v missed frames", e.ID, e.Misses)
				}
				result.Evicted = append(result.Evicted, e.Snapshot())
				continue
			}
		}
		remain = append(remain, e)
	}
	for j := len(remain); j < len(t.alive); j++ {
		t.alive[j] = nil
	}
	t.alive = remain

	return result
}

// Find all (detection, entity) pairs that are close enough to be the same person.
func (t *Tracker) findCandidates(valid []int, boxes []geom.Rect, frameWidth int) []candidate {
	if len(t.alive) == 0 || len(valid) == 0 {
		return nil
	}

	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(t.alive))
	for _, e := range t.alive {
		fb.Add(e.Box.X, e.Box.Y, e.Box.X2(), e.Box.Y2())
	}
	fb.Finish()

	minSearchBuffer := int32(t.options.SearchFraction * float32(frameWidth))

	candidates := []candidate{}
	nearby := []int{}
	for _, i := range valid {
		box := boxes[i]
		bufX := max(minSearchBuffer, int32(0.8*float32(box.Width)))
		bufY := max(minSearchBuffer, int32(0.8*float32(box.Height)))
		maxDistance := t.options.MaxMatchDistance
		if maxDistance == 0 {
			maxDistance = math32.Sqrt(float32(bufX)*float32(bufX) + float32(bufY)*float32(bufY))
		}
		center := box.Center()
		nearby = fb.SearchFast(box.X-bufX, box.Y-bufY, box.X2()+bufX, box.Y2()+bufY, nearby)
		for _, j := range nearby {
			existing := t.alive[j].Box
			iou := box.IOU(existing)
			// Overlapping pairs always outrank distance-only pairs. At a low effective
			// frame rate, a person can move far enough that boxes no longer overlap,
			// so we fall back to centre distance.
			if iou >= t.options.MinIOU {
				candidates = append(candidates, candidate{i, j, 1 + iou})
				continue
			}
			distance := center.Distance(existing.Center())
			if maxDistance > 0 && distance <= maxDistance {
				candidates = append(candidates, candidate{i, j, 1 - distance/maxDistance})
			}
		}
	}
	return candidates
}
