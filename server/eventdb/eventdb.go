// Package eventdb stores analysis runs and their anomalies in SQLite
package eventdb

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// EventDB is a persistent record of analysis runs, and the anomalies found in them
type EventDB struct {
	log logs.Log
	DB  *gorm.DB
}

// Open or create an event DB
func Open(log logs.Log, dbFilename string) (*EventDB, error) {
	if dir := filepath.Dir(dbFilename); dir != "" {
		if err := os.MkdirAll(dir, 0770); err != nil {
			return nil, fmt.Errorf("Failed to create event database directory '%v': %w", dir, err)
		}
	}
	log.Infof("Opening event DB at '%v'", dbFilename)
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(dbFilename), Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open event database %v: %w", dbFilename, err)
	}
	return &EventDB{
		log: log,
		DB:  db,
	}, nil
}

func (e *EventDB) Close() error {
	sqlDB, err := e.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
