// Package smoother stabilizes noisy per-frame classifications.
//
// For every (entity, kind) pair we keep the last W observations. The dominant label
// is the most frequent label in that window. Ties are broken by the highest mean
// confidence, and then by whichever of the tied labels occurred most recently.
// A single misclassified frame can therefore neither create nor clear a dominant label.
package smoother

import (
	"github.com/cyclopcam/vigil/pkg/window"
)

type Kind int

const (
	KindEmotion Kind = iota
	KindActivity
)

func (k Kind) String() string {
	switch k {
	case KindEmotion:
		return "emotion"
	case KindActivity:
		return "activity"
	}
	return "unknown"
}

// Signal is the smoothed value of one kind of classification for one entity
type Signal struct {
	Label          string  `json:"label"`
	Proportion     float32 `json:"proportion"`     // Fraction of the window occupied by Label, 0..1
	MeanConfidence float32 `json:"meanConfidence"` // Mean confidence of the Label observations
	Samples        int     `json:"samples"`        // Number of observations in the window
}

type observation struct {
	label      string
	confidence float32
}

type key struct {
	entity int64
	kind   Kind
}

type Smoother struct {
	size    int
	windows map[key]*window.Window[observation]
}

// New creates a smoother with a window of size observations
func New(size int) *Smoother {
	return &Smoother{
		size:    max(size, 1),
		windows: map[key]*window.Window[observation]{},
	}
}

func (s *Smoother) WindowSize() int {
	return s.size
}

// Push adds an observation. Empty labels are ignored.
func (s *Smoother) Push(entityID int64, kind Kind, label string, confidence float32) {
	if label == "" {
		return
	}
	k := key{entityID, kind}
	w := s.windows[k]
	if w == nil {
		w = window.New[observation](s.size)
		s.windows[k] = w
	}
	w.Add(observation{label, min(max(confidence, 0), 1)})
}

// Len returns the number of observations held for (entityID, kind)
func (s *Smoother) Len(entityID int64, kind Kind) int {
	if w := s.windows[key{entityID, kind}]; w != nil {
		return w.Len()
	}
	return 0
}

// Dominant returns the smoothed label for (entityID, kind), or false if nothing
// has been observed.
func (s *Smoother) Dominant(entityID int64, kind Kind) (Signal, bool) {
	w := s.windows[key{entityID, kind}]
	if w == nil || w.Len() == 0 {
		return Signal{}, false
	}

	type tally struct {
		count      int
		confidence float32
		lastIndex  int
	}
	tallies := map[string]*tally{}
	n := w.Len()
	for i := 0; i < n; i++ {
		obs := w.Get(i)
		t := tallies[obs.label]
		if t == nil {
			t = &tally{}
			tallies[obs.label] = t
		}
		t.count++
		t.confidence += obs.confidence
		t.lastIndex = i
	}

	best := ""
	var bt *tally
	for label, t := range tallies {
		if bt == nil || better(t.count, t.confidence, t.lastIndex, bt.count, bt.confidence, bt.lastIndex) {
			best = label
			bt = t
		}
	}
	return Signal{
		Label:          best,
		Proportion:     float32(bt.count) / float32(n),
		MeanConfidence: bt.confidence / float32(bt.count),
		Samples:        n,
	}, true
}

// Returns true if tally a beats tally b.
// lastIndex values are unique per label, so the result is a strict total order.
func better(countA int, confA float32, lastA int, countB int, confB float32, lastB int) bool {
	if countA != countB {
		return countA > countB
	}
	meanA := confA / float32(countA)
	meanB := confB / float32(countB)
	if meanA != meanB {
		return meanA > meanB
	}
	return lastA > lastB
}

// Forget drops all windows of an entity
func (s *Smoother) Forget(entityID int64) {
	delete(s.windows, key{entityID, KindEmotion})
	delete(s.windows, key{entityID, KindActivity})
}
