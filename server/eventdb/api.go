package eventdb

import (
	"fmt"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/vigil/server/aggregate"
	"github.com/cyclopcam/vigil/server/config"
	"github.com/cyclopcam/vigil/server/rules"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Anomalies are inserted in batches of this size
const insertBatchSize = 100

// StartRun creates a new run record
func (e *EventDB) StartRun(video string, cfg *config.Config) (*Run, error) {
	var cfgJSON dbh.JSONField[config.Config]
	cfgJSON.Data = *cfg
	run := &Run{
		UUID:    uuid.NewString(),
		Video:   video,
		Started: dbh.MakeIntTime(time.Now()),
		Config:  &cfgJSON,
	}
	if err := e.DB.Create(run).Error; err != nil {
		return nil, fmt.Errorf("Failed to create run: %w", err)
	}
	e.log.Infof("EventDB: Started run %v (%v)", run.ID, run.UUID)
	return run, nil
}

// AddEvents stores events of a run
func (e *EventDB) AddEvents(runID int64, events []rules.Event) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]*Anomaly, len(events))
	for i := range events {
		records[i] = anomalyFromEvent(runID, &events[i])
	}
	return e.DB.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(records, insertBatchSize).Error
	})
}

// FinishRun records the final totals of a run
func (e *EventDB) FinishRun(runID int64, stats aggregate.Stats, cancelled bool) error {
	var statsJSON dbh.JSONField[aggregate.Stats]
	statsJSON.Data = stats
	res := e.DB.Model(&Run{}).Where("id = ?", runID).Updates(map[string]any{
		"finished":  dbh.MakeIntTime(time.Now()),
		"cancelled": cancelled,
		"stats":     &statsJSON,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("Run %v not found", runID)
	}
	return nil
}

// GetRun returns a single run, or gorm.ErrRecordNotFound
func (e *EventDB) GetRun(runID int64) (*Run, error) {
	run := &Run{}
	if err := e.DB.First(run, runID).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns all runs, most recent first
func (e *EventDB) ListRuns() ([]Run, error) {
	runs := []Run{}
	if err := e.DB.Order("id DESC").Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// RunEvents returns the events of a run with at least minSeverity, in the order in
// which they were detected.
func (e *EventDB) RunEvents(runID int64, minSeverity rules.Severity) ([]rules.Event, error) {
	records := []Anomaly{}
	if err := e.DB.Where("run_id = ? AND severity >= ?", runID, int(minSeverity)).Order("frame, id").Find(&records).Error; err != nil {
		return nil, err
	}
	events := make([]rules.Event, 0, len(records))
	for i := range records {
		ev, err := records[i].Event()
		if err != nil {
			e.log.Warnf("EventDB: Skipping anomaly %v: %v", records[i].ID, err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// CountByKind returns the number of anomalies of each kind in a run
func (e *EventDB) CountByKind(runID int64) (map[string]int64, error) {
	type kindCount struct {
		Kind  string
		Count int64
	}
	rows := []kindCount{}
	if err := e.DB.Model(&Anomaly{}).Select("kind, COUNT(*) AS count").Where("run_id = ?", runID).Group("kind").Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := map[string]int64{}
	for _, r := range rows {
		counts[r.Kind] = r.Count
	}
	return counts, nil
}

// RunWriter writes the events of a single run. It satisfies pipeline.EventSink.
type RunWriter struct {
	db    *EventDB
	runID int64
}

func (e *EventDB) Writer(runID int64) *RunWriter {
	return &RunWriter{db: e, runID: runID}
}

func (w *RunWriter) WriteEvents(events []rules.Event) error {
	return w.db.AddEvents(w.runID, events)
}
