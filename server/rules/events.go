package rules

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the type of anomaly
type Kind int

const (
	KindSuddenMotion Kind = iota + 1
	KindNegativeEmotion
	KindInactivity
	KindOrientation
	KindSceneObject
	KindOverlay
	KindEmotionSpike
	KindUnusualActivity
	KindCrowd
)

// AllKinds lists every anomaly kind, in evaluation order
var AllKinds = []Kind{
	KindSuddenMotion,
	KindNegativeEmotion,
	KindInactivity,
	KindOrientation,
	KindSceneObject,
	KindOverlay,
	KindEmotionSpike,
	KindUnusualActivity,
	KindCrowd,
}

func (k Kind) String() string {
	switch k {
	case KindSuddenMotion:
		return "sudden_motion"
	case KindNegativeEmotion:
		return "negative_emotion"
	case KindInactivity:
		return "prolonged_inactivity"
	case KindOrientation:
		return "orientation"
	case KindSceneObject:
		return "scene_object"
	case KindOverlay:
		return "visual_overlay"
	case KindEmotionSpike:
		return "emotion_spike"
	case KindUnusualActivity:
		return "unusual_activity"
	case KindCrowd:
		return "crowd"
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String
func ParseKind(s string) (Kind, error) {
	for _, k := range AllKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("Unknown anomaly kind '%v'", s)
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Severity of an anomaly. Severities are ordered, so Low < Medium < High.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	}
	return "unknown"
}

func (s Severity) Valid() bool {
	return s >= SeverityLow && s <= SeverityHigh
}

func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	}
	return 0, fmt.Errorf("Unknown severity '%v'", s)
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Severity) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	v, err := ParseSeverity(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Bucket a [0,1] confidence or score into a severity
func severityFromScore(score float32) Severity {
	switch {
	case score >= 0.8:
		return SeverityHigh
	case score >= 0.5:
		return SeverityMedium
	}
	return SeverityLow
}

// Event is a single detected anomaly.
// Events are values, and are never modified after the engine emits them.
type Event struct {
	Kind        Kind          `json:"kind"`
	Severity    Severity      `json:"severity"`
	Frame       int           `json:"frame"`
	Time        time.Duration `json:"time"`
	EntityID    int64         `json:"entityId,omitempty"` // Zero for scene level events
	Category    string        `json:"category,omitempty"` // Object category, for scene level events
	Description string        `json:"description"`
	Score       float32       `json:"score"`
}
