// Package baseline keeps adaptive per-entity statistics, so that each person's
// behaviour is judged against their own recent normal, rather than a global constant.
//
// All state changes happen in the Observe* functions, which the pipeline calls once
// per sampled frame. Every other function is a pure read, so the rule engine can
// query the same state any number of times and get the same answers.
package baseline

import (
	"time"

	"github.com/cyclopcam/vigil/pkg/geom"
	"github.com/cyclopcam/vigil/pkg/stats"
	"github.com/cyclopcam/vigil/pkg/window"
	"github.com/cyclopcam/vigil/server/config"
	"github.com/cyclopcam/vigil/server/perception"
)

type Options struct {
	HistorySize            int     // Positions and velocities kept per entity
	LabelHistorySize       int     // Activity labels kept per entity
	SuddenMotionMultiplier float32 // Velocity must exceed this multiple of the entity's mean
	MinVelocitySamples     int     // Number of prior velocity samples needed before judging sudden motion
	MinBaselineVelocity    float32 // Pixels/second
	InactivityThreshold    time.Duration
	InactivityEpsilon      float32 // Pixels²
}

func OptionsFromConfig(c *config.Config) Options {
	return Options{
		HistorySize:            c.PositionHistorySize,
		LabelHistorySize:       c.LabelHistorySize,
		SuddenMotionMultiplier: c.SuddenMotionMultiplier,
		MinVelocitySamples:     c.MinVelocitySamples,
		MinBaselineVelocity:    c.MinBaselineVelocity,
		InactivityThreshold:    c.InactivityThreshold(),
		InactivityEpsilon:      c.InactivityEpsilon,
	}
}

type sample struct {
	pos geom.Point
	t   time.Duration
}

// Running mean and variance of the positions since the entity last moved
type stillness struct {
	since  time.Duration
	count  int
	meanX  float64
	meanY  float64
	m2     float64 // Sum of squared distances from the running mean
	active bool
}

func (s *stillness) reset(p geom.Point, t time.Duration) {
	*s = stillness{
		since:  t,
		count:  1,
		meanX:  float64(p.X),
		meanY:  float64(p.Y),
		active: true,
	}
}

// Add a position. Returns false if the position broke the stillness, in which
// case the stillness restarts from p.
func (s *stillness) add(p geom.Point, t time.Duration, epsilon float64) bool {
	if !s.active {
		s.reset(p, t)
		return true
	}
	// Welford's online update, applied to x and y together
	n := s.count + 1
	dx := float64(p.X) - s.meanX
	dy := float64(p.Y) - s.meanY
	meanX := s.meanX + dx/float64(n)
	meanY := s.meanY + dy/float64(n)
	m2 := s.m2 + dx*(float64(p.X)-meanX) + dy*(float64(p.Y)-meanY)
	if m2/float64(n) > epsilon {
		s.reset(p, t)
		return false
	}
	s.count = n
	s.meanX = meanX
	s.meanY = meanY
	s.m2 = m2
	return true
}

type entity struct {
	positions  *window.Window[sample]
	velocities *window.Window[float32]
	still      stillness
	inactive   bool // Motionless for longer than the configured threshold
	inactiveOn bool // inactive became true on the most recent observation

	negativeStreak int
	prevEmotion    string
	emotion        string
	emotionConf    float32

	activities   *window.Window[string]
	prevActivity string
	activity     string

	prevOrientation perception.Orientation
	orientation     perception.Orientation
}

type Tracker struct {
	options  Options
	entities map[int64]*entity
}

func New(options Options) *Tracker {
	return &Tracker{
		options:  options,
		entities: map[int64]*entity{},
	}
}

func (b *Tracker) get(id int64) *entity {
	e := b.entities[id]
	if e == nil {
		e = &entity{
			positions:  window.New[sample](b.options.HistorySize),
			velocities: window.New[float32](b.options.HistorySize),
			activities: window.New[string](b.options.LabelHistorySize),
		}
		b.entities[id] = e
	}
	return e
}

// Forget drops all state of an entity
func (b *Tracker) Forget(id int64) {
	delete(b.entities, id)
}

// Observe records the position of an entity at time t.
// Observations that are not later than the previous observation are ignored.
func (b *Tracker) Observe(id int64, position geom.Point, t time.Duration) {
	e := b.get(id)
	if e.positions.Len() != 0 {
		last := e.positions.Newest()
		if t <= last.t {
			return
		}
		dt := float32((t - last.t).Seconds())
		e.velocities.Add(position.Distance(last.pos) / dt)
	}
	e.positions.Add(sample{position, t})

	e.still.add(position, t, float64(b.options.InactivityEpsilon))
	wasInactive := e.inactive
	e.inactive = e.stillFor(t) > b.options.InactivityThreshold
	e.inactiveOn = e.inactive && !wasInactive
}

func (e *entity) stillFor(now time.Duration) time.Duration {
	if !e.still.active || e.still.count < 2 {
		return 0
	}
	return now - e.still.since
}

// Velocity returns the most recent velocity of the entity in pixels/second
func (b *Tracker) Velocity(id int64) (float32, bool) {
	e := b.entities[id]
	if e == nil || e.velocities.Len() == 0 {
		return 0, false
	}
	return e.velocities.Newest(), true
}

// MeanVelocity returns the mean of the velocities before the most recent one.
// This is the entity's own normal pace, against which the latest velocity is judged.
func (b *Tracker) MeanVelocity(id int64) (float32, int) {
	e := b.entities[id]
	if e == nil || e.velocities.Len() < 2 {
		return 0, 0
	}
	prior := e.velocities.Items()
	prior = prior[:len(prior)-1]
	return float32(stats.Mean(prior)), len(prior)
}

// IsSuddenMotion returns true if the latest velocity exceeds SuddenMotionMultiplier
// times the entity's mean velocity. The second value is latest velocity divided by
// that threshold, which is greater than 1 when the motion is sudden.
func (b *Tracker) IsSuddenMotion(id int64) (bool, float32) {
	v, ok := b.Velocity(id)
	if !ok {
		return false, 0
	}
	mean, n := b.MeanVelocity(id)
	if n < b.options.MinVelocitySamples {
		return false, 0
	}
	threshold := b.options.SuddenMotionMultiplier * max(mean, b.options.MinBaselineVelocity)
	if threshold <= 0 {
		return false, 0
	}
	ratio := v / threshold
	return ratio > 1, ratio
}

// IsProlongedInactivity returns true if the entity's position variance has stayed
// below the configured epsilon for longer than threshold.
func (b *Tracker) IsProlongedInactivity(id int64, threshold time.Duration) bool {
	e := b.entities[id]
	if e == nil || e.positions.Len() == 0 {
		return false
	}
	return e.stillFor(e.positions.Newest().t) > threshold
}

// InactivityOnset is true only on the observation at which the entity crossed the
// configured inactivity threshold. It becomes possible again after the entity moves.
func (b *Tracker) InactivityOnset(id int64) bool {
	e := b.entities[id]
	return e != nil && e.inactiveOn
}

// StillFor returns how long the entity has been motionless
func (b *Tracker) StillFor(id int64) time.Duration {
	e := b.entities[id]
	if e == nil || e.positions.Len() == 0 {
		return 0
	}
	return e.stillFor(e.positions.Newest().t)
}

// IsNegativeEmotion returns true for the emotions that count towards a negative streak
func IsNegativeEmotion(label string) bool {
	switch label {
	case "sad", "angry", "fearful", "fear":
		return true
	}
	return false
}

// ObserveEmotion records the smoothed emotion of an entity for this frame
func (b *Tracker) ObserveEmotion(id int64, label string, confidence float32) {
	e := b.get(id)
	if IsNegativeEmotion(label) {
		e.negativeStreak++
	} else {
		e.negativeStreak = 0
	}
	e.prevEmotion = e.emotion
	e.emotion = label
	e.emotionConf = confidence
}

// EmotionTrend returns the number of consecutive negative smoothed emotions, up to
// and including the most recent one.
func (b *Tracker) EmotionTrend(id int64) int {
	if e := b.entities[id]; e != nil {
		return e.negativeStreak
	}
	return 0
}

// EmotionChange returns the previous and current smoothed emotion, and the
// confidence of the current one.
func (b *Tracker) EmotionChange(id int64) (prev, current string, confidence float32) {
	if e := b.entities[id]; e != nil {
		return e.prevEmotion, e.emotion, e.emotionConf
	}
	return "", "", 0
}

// ObserveActivity records the smoothed activity of an entity for this frame
func (b *Tracker) ObserveActivity(id int64, label string) {
	e := b.get(id)
	e.prevActivity = e.activity
	e.activity = label
	e.activities.Add(label)
}

// ActivityChange returns the previous and current smoothed activity
func (b *Tracker) ActivityChange(id int64) (prev, current string) {
	if e := b.entities[id]; e != nil {
		return e.prevActivity, e.activity
	}
	return "", ""
}

// ActivityFrequency returns the fraction of the activity history before the most
// recent observation that is occupied by label, and the size of that history.
func (b *Tracker) ActivityFrequency(id int64, label string) (float32, int) {
	e := b.entities[id]
	if e == nil || e.activities.Len() < 2 {
		return 0, 0
	}
	n := e.activities.Len() - 1
	count := 0
	for i := 0; i < n; i++ {
		if e.activities.Get(i) == label {
			count++
		}
	}
	return float32(count) / float32(n), n
}

// ObserveOrientation records the posture of an entity for this frame
func (b *Tracker) ObserveOrientation(id int64, o perception.Orientation) {
	e := b.get(id)
	e.prevOrientation = e.orientation
	e.orientation = o
}

// Orientation returns the most recently observed posture
func (b *Tracker) Orientation(id int64) perception.Orientation {
	if e := b.entities[id]; e != nil {
		return e.orientation
	}
	return perception.OrientationUnknown
}

// LyingOnset is true if the entity was observed lying down, and was not lying on
// the previous observation.
func (b *Tracker) LyingOnset(id int64) bool {
	e := b.entities[id]
	return e != nil && e.orientation == perception.OrientationLying && e.prevOrientation != perception.OrientationLying
}
