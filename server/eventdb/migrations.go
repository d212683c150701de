package eventdb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE run(
			id INTEGER PRIMARY KEY,
			uuid TEXT NOT NULL,
			video TEXT NOT NULL,
			started INT NOT NULL,
			finished INT,
			cancelled BOOLEAN NOT NULL DEFAULT 0,
			config BLOB,
			stats BLOB
		);

		CREATE TABLE anomaly(
			id INTEGER PRIMARY KEY,
			run_id INT NOT NULL,
			kind TEXT NOT NULL,
			severity INT NOT NULL,
			frame INT NOT NULL,
			time_ms INT NOT NULL,
			entity_id INT,
			category TEXT,
			description TEXT NOT NULL,
			score REAL NOT NULL
		);

		CREATE UNIQUE INDEX idx_run_uuid ON run(uuid);
		CREATE INDEX idx_anomaly_run_id ON anomaly(run_id);
	`))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE INDEX idx_anomaly_run_id_kind ON anomaly(run_id, kind);
	`))

	return migs
}
