package eventdb

import (
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/vigil/server/aggregate"
	"github.com/cyclopcam/vigil/server/config"
	"github.com/cyclopcam/vigil/server/rules"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// Run is one analysis of one video
type Run struct {
	BaseModel
	UUID      string                          `gorm:"column:uuid" json:"uuid"` // Unique across databases, so that runs can be merged
	Video     string                          `json:"video"`
	Started   dbh.IntTime                     `json:"started"`
	Finished  dbh.IntTime                     `json:"finished"`                // Zero while the run is in progress
	Cancelled bool                            `json:"cancelled"`
	Config    *dbh.JSONField[config.Config]   `json:"config"`
	Stats     *dbh.JSONField[aggregate.Stats] `json:"stats"`                   // Final totals. Nil until the run finishes.
}

// Anomaly is a stored rules.Event
type Anomaly struct {
	BaseModel
	RunID       int64   `gorm:"column:run_id" json:"runId"`
	Kind        string  `json:"kind"`
	Severity    int     `json:"severity"`
	Frame       int     `json:"frame"`
	TimeMS      int64   `gorm:"column:time_ms" json:"timeMs"`
	EntityID    int64   `gorm:"column:entity_id" json:"entityId"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Score       float32 `json:"score"`
}

func anomalyFromEvent(runID int64, e *rules.Event) *Anomaly {
	return &Anomaly{
		RunID:       runID,
		Kind:        e.Kind.String(),
		Severity:    int(e.Severity),
		Frame:       e.Frame,
		TimeMS:      e.Time.Milliseconds(),
		EntityID:    e.EntityID,
		Category:    e.Category,
		Description: e.Description,
		Score:       e.Score,
	}
}

func (a *Anomaly) Event() (rules.Event, error) {
	kind, err := rules.ParseKind(a.Kind)
	if err != nil {
		return rules.Event{}, err
	}
	return rules.Event{
		Kind:        kind,
		Severity:    rules.Severity(a.Severity),
		Frame:       a.Frame,
		Time:        time.Duration(a.TimeMS) * time.Millisecond,
		EntityID:    a.EntityID,
		Category:    a.Category,
		Description: a.Description,
		Score:       a.Score,
	}, nil
}
