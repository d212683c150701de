// Package config holds the tunable parameters of an analysis run.
//
// A Config starts from DefaultConfig(), is optionally overlaid by a JSON or YAML
// file (see Load), and must pass Validate() before the pipeline accepts it.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid is wrapped by every error returned from Validate
var ErrInvalid = errors.New("invalid configuration")

// RuleToggles enables or disables individual anomaly rules
type RuleToggles struct {
	SuddenMotion       bool `json:"suddenMotion" mapstructure:"suddenMotion"`
	EmotionPersistence bool `json:"emotionPersistence" mapstructure:"emotionPersistence"`
	Inactivity         bool `json:"inactivity" mapstructure:"inactivity"`
	Orientation        bool `json:"orientation" mapstructure:"orientation"`
	SceneObject        bool `json:"sceneObject" mapstructure:"sceneObject"`
	Overlay            bool `json:"overlay" mapstructure:"overlay"`
	EmotionSpike       bool `json:"emotionSpike" mapstructure:"emotionSpike"`
	UnusualActivity    bool `json:"unusualActivity" mapstructure:"unusualActivity"`
	Crowd              bool `json:"crowd" mapstructure:"crowd"`
}

type Config struct {
	// Sampling
	SampleStride int `json:"sampleStride" mapstructure:"sampleStride"` // Run perception on every N'th frame

	// Entity tracking
	MissLimit           int     `json:"missLimit" mapstructure:"missLimit"`                     // Evict an entity after more than this many consecutive sampled frames without a match
	MinIOU              float32 `json:"minIOU" mapstructure:"minIOU"`                           // Minimum overlap for an IOU match
	MaxMatchDistance    float32 `json:"maxMatchDistance" mapstructure:"maxMatchDistance"`       // Max centre distance (pixels) for a distance match. 0 = derived from the search buffer
	SearchFraction      float32 `json:"searchFraction" mapstructure:"searchFraction"`           // Minimum search buffer, as a fraction of frame width
	PositionHistorySize int     `json:"positionHistorySize" mapstructure:"positionHistorySize"` // Number of positions kept per entity
	LabelHistorySize    int     `json:"labelHistorySize" mapstructure:"labelHistorySize"`       // Number of emotion/activity labels kept per entity

	// Temporal smoothing
	WindowSize          int  `json:"windowSize" mapstructure:"windowSize"`
	SceneEmotionWeights bool `json:"sceneEmotionWeights" mapstructure:"sceneEmotionWeights"` // Scale emotion confidence by the scene's emotion weights before smoothing

	// Scene context
	SceneRefreshSeconds float32 `json:"sceneRefreshSeconds" mapstructure:"sceneRefreshSeconds"`

	// Baseline
	SuddenMotionMultiplier float32 `json:"suddenMotionMultiplier" mapstructure:"suddenMotionMultiplier"`
	MinVelocitySamples     int     `json:"minVelocitySamples" mapstructure:"minVelocitySamples"`
	MinBaselineVelocity    float32 `json:"minBaselineVelocity" mapstructure:"minBaselineVelocity"` // Floor on an entity's mean velocity (pixels/second), so that a motionless entity doesn't have a zero threshold. Set to 0 for low frame rates.
	InactivitySeconds      float32 `json:"inactivitySeconds" mapstructure:"inactivitySeconds"`
	InactivityEpsilon      float32 `json:"inactivityEpsilon" mapstructure:"inactivityEpsilon"` // Position variance (pixels²) below which an entity counts as motionless
	InactivitySeverity     string  `json:"inactivitySeverity" mapstructure:"inactivitySeverity"`
	NegativeEmotionStreak  int     `json:"negativeEmotionStreak" mapstructure:"negativeEmotionStreak"`
	EmotionEscalation      bool    `json:"emotionEscalation" mapstructure:"emotionEscalation"` // Re-fire emotion persistence at 2x and 3x the streak

	// Scene/object rules
	NoveltyWindowFrames  int     `json:"noveltyWindowFrames" mapstructure:"noveltyWindowFrames"`
	NoveltyMinConfidence float32 `json:"noveltyMinConfidence" mapstructure:"noveltyMinConfidence"`

	// Supplementary rules
	EmotionSpikeConfidence      float32 `json:"emotionSpikeConfidence" mapstructure:"emotionSpikeConfidence"`
	UnusualActivityMinHistory   int     `json:"unusualActivityMinHistory" mapstructure:"unusualActivityMinHistory"`
	UnusualActivityMaxFrequency float32 `json:"unusualActivityMaxFrequency" mapstructure:"unusualActivityMaxFrequency"`
	CrowdThreshold              int     `json:"crowdThreshold" mapstructure:"crowdThreshold"`

	// Progress reporting
	ObserverStride          int     `json:"observerStride" mapstructure:"observerStride"`                   // Notify the observer at most every N sampled frames...
	ObserverIntervalSeconds float32 `json:"observerIntervalSeconds" mapstructure:"observerIntervalSeconds"` // ...or when this much wall time has elapsed

	Rules   RuleToggles `json:"rules" mapstructure:"rules"`
	Verbose bool        `json:"verbose" mapstructure:"verbose"`
}

func DefaultConfig() Config {
	return Config{
		SampleStride:                2,
		MissLimit:                   10,
		MinIOU:                      0.3,
		MaxMatchDistance:            0,
		SearchFraction:              0.05,
		PositionHistorySize:         30,
		LabelHistorySize:            30,
		WindowSize:                  5,
		SceneEmotionWeights:         true,
		SceneRefreshSeconds:         2,
		SuddenMotionMultiplier:      3,
		MinVelocitySamples:          3,
		MinBaselineVelocity:         20,
		InactivitySeconds:           10,
		InactivityEpsilon:           4,
		InactivitySeverity:          "medium",
		NegativeEmotionStreak:       5,
		EmotionEscalation:           false,
		NoveltyWindowFrames:         30,
		NoveltyMinConfidence:        0.7,
		EmotionSpikeConfidence:      0.7,
		UnusualActivityMinHistory:   10,
		UnusualActivityMaxFrequency: 0.05,
		CrowdThreshold:              5,
		ObserverStride:              25,
		ObserverIntervalSeconds:     1,
		Rules: RuleToggles{
			SuddenMotion:       true,
			EmotionPersistence: true,
			Inactivity:         true,
			Orientation:        true,
			SceneObject:        true,
			Overlay:            true,
			EmotionSpike:       true,
			UnusualActivity:    true,
			Crowd:              true,
		},
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %v", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate returns an error describing the first out-of-range value
func (c *Config) Validate() error {
	if c.SampleStride < 1 {
		return invalid("sampleStride must be at least 1 (got %v)", c.SampleStride)
	}
	if c.MissLimit < 0 {
		return invalid("missLimit may not be negative (got %v)", c.MissLimit)
	}
	if c.MinIOU <= 0 || c.MinIOU > 1 {
		return invalid("minIOU must be in (0,1] (got %v)", c.MinIOU)
	}
	if c.MaxMatchDistance < 0 {
		return invalid("maxMatchDistance may not be negative (got %v)", c.MaxMatchDistance)
	}
	if c.SearchFraction < 0 || c.SearchFraction > 1 {
		return invalid("searchFraction must be in [0,1] (got %v)", c.SearchFraction)
	}
	if c.PositionHistorySize < 2 {
		return invalid("positionHistorySize must be at least 2 (got %v)", c.PositionHistorySize)
	}
	if c.LabelHistorySize < 1 {
		return invalid("labelHistorySize must be at least 1 (got %v)", c.LabelHistorySize)
	}
	if c.WindowSize < 1 {
		return invalid("windowSize must be at least 1 (got %v)", c.WindowSize)
	}
	if c.SceneRefreshSeconds < 0 {
		return invalid("sceneRefreshSeconds may not be negative (got %v)", c.SceneRefreshSeconds)
	}
	if c.SuddenMotionMultiplier <= 1 {
		return invalid("suddenMotionMultiplier must be greater than 1 (got %v)", c.SuddenMotionMultiplier)
	}
	if c.MinVelocitySamples < 1 {
		return invalid("minVelocitySamples must be at least 1 (got %v)", c.MinVelocitySamples)
	}
	if c.MinVelocitySamples >= c.PositionHistorySize {
		return invalid("minVelocitySamples (%v) must be less than positionHistorySize (%v)", c.MinVelocitySamples, c.PositionHistorySize)
	}
	if c.MinBaselineVelocity < 0 {
		return invalid("minBaselineVelocity may not be negative (got %v)", c.MinBaselineVelocity)
	}
	if c.InactivitySeconds <= 0 {
		return invalid("inactivitySeconds must be positive (got %v)", c.InactivitySeconds)
	}
	if c.InactivityEpsilon < 0 {
		return invalid("inactivityEpsilon may not be negative (got %v)", c.InactivityEpsilon)
	}
	switch strings.ToLower(c.InactivitySeverity) {
	case "low", "medium", "high":
	default:
		return invalid("inactivitySeverity must be one of low, medium, high (got '%v')", c.InactivitySeverity)
	}
	if c.NegativeEmotionStreak < 1 {
		return invalid("negativeEmotionStreak must be at least 1 (got %v)", c.NegativeEmotionStreak)
	}
	if c.NoveltyWindowFrames < 1 {
		return invalid("noveltyWindowFrames must be at least 1 (got %v)", c.NoveltyWindowFrames)
	}
	if c.NoveltyMinConfidence < 0 || c.NoveltyMinConfidence > 1 {
		return invalid("noveltyMinConfidence must be in [0,1] (got %v)", c.NoveltyMinConfidence)
	}
	if c.EmotionSpikeConfidence < 0 || c.EmotionSpikeConfidence > 1 {
		return invalid("emotionSpikeConfidence must be in [0,1] (got %v)", c.EmotionSpikeConfidence)
	}
	if c.UnusualActivityMinHistory < 1 {
		return invalid("unusualActivityMinHistory must be at least 1 (got %v)", c.UnusualActivityMinHistory)
	}
	if c.UnusualActivityMaxFrequency < 0 || c.UnusualActivityMaxFrequency > 1 {
		return invalid("unusualActivityMaxFrequency must be in [0,1] (got %v)", c.UnusualActivityMaxFrequency)
	}
	if c.CrowdThreshold < 1 {
		return invalid("crowdThreshold must be at least 1 (got %v)", c.CrowdThreshold)
	}
	if c.ObserverStride < 1 {
		return invalid("observerStride must be at least 1 (got %v)", c.ObserverStride)
	}
	if c.ObserverIntervalSeconds < 0 {
		return invalid("observerIntervalSeconds may not be negative (got %v)", c.ObserverIntervalSeconds)
	}
	return nil
}

func seconds(s float32) time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

func (c *Config) InactivityThreshold() time.Duration {
	return seconds(c.InactivitySeconds)
}

func (c *Config) SceneRefreshInterval() time.Duration {
	return seconds(c.SceneRefreshSeconds)
}

func (c *Config) ObserverInterval() time.Duration {
	return seconds(c.ObserverIntervalSeconds)
}

// Load reads a JSON or YAML file on top of DefaultConfig().
// Keys that are absent from the file keep their default values.
func Load(filename string) (Config, error) {
	cfg := DefaultConfig()
	v := viper.New()
	v.SetConfigFile(filename)
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("Failed to read config file %v: %w", filename, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("Failed to decode config file %v: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
