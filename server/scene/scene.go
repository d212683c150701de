// Package scene holds the current scene classification, and what that scene
// implies about which objects and postures are normal.
package scene

import (
	"strings"
	"time"
)

// Context is the scene classification in effect, plus the expectations that come with it.
// An unknown scene label carries no expectations, so every predicate is false.
type Context struct {
	Label      string        `json:"label"`
	Confidence float32       `json:"confidence"`
	Known      bool          `json:"known"`       // True if Label is in the rule table
	Frame      int           `json:"frame"`       // Frame on which this classification was made
	Time       time.Duration `json:"time"`        // Time at which this classification was made
	Valid      bool          `json:"valid"`       // False until the first classification arrives
	expected   map[string]bool
	forbidden  map[string]bool
	lying      bool
	emotionW   map[string]float32
}

func (c *Context) IsExpected(category string) bool {
	return c.expected[category]
}

func (c *Context) IsForbidden(category string) bool {
	return c.forbidden[category]
}

// LyingAllowed returns (allowed, known). If the scene is unknown, the posture
// cannot be judged, and known is false.
func (c *Context) LyingAllowed() (allowed bool, known bool) {
	return c.lying, c.Known
}

// EmotionWeight is the multiplier applied to the confidence of an emotion label
// in this scene. Emotions without a weight use 1.
func (c *Context) EmotionWeight(label string) float32 {
	if w, ok := c.emotionW[label]; ok {
		return w
	}
	return 1
}

// Model tracks the current scene
type Model struct {
	rules   map[string]Rule
	current Context
}

func NewModel() *Model {
	return NewModelWithRules(DefaultRules)
}

func NewModelWithRules(rules map[string]Rule) *Model {
	return &Model{
		rules: rules,
	}
}

// NormalizeLabel lowercases a scene label, and maps underscores to spaces,
// so that "Living_Room" and "living room" are the same scene.
func NormalizeLabel(label string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(label)), "_", " ")
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, i := range items {
		s[i] = true
	}
	return s
}

// Update replaces the current scene. The classification is held until the next Update.
func (m *Model) Update(label string, confidence float32, frame int, t time.Duration) {
	label = NormalizeLabel(label)
	c := Context{
		Label:      label,
		Confidence: min(max(confidence, 0), 1),
		Frame:      frame,
		Time:       t,
		Valid:      true,
	}
	if rule, ok := m.rules[label]; ok {
		c.Known = true
		c.expected = toSet(rule.Expected)
		c.forbidden = toSet(rule.Forbidden)
		c.lying = rule.LyingAllowed
		c.emotionW = rule.EmotionWeights
	}
	m.current = c
}

// Due returns true if a new classification should be made at time t
func (m *Model) Due(t time.Duration, interval time.Duration) bool {
	return !m.current.Valid || t-m.current.Time >= interval || t < m.current.Time
}

// Context returns the current scene. The sets inside are never mutated after
// creation, so the returned value is safe to hold.
func (m *Model) Context() Context {
	return m.current
}

func (m *Model) IsExpected(category string) bool {
	return m.current.IsExpected(category)
}

func (m *Model) IsForbidden(category string) bool {
	return m.current.IsForbidden(category)
}
