// Package store keeps run results in a SQLite database so that sweeps over
// many configurations can be queried after the fact.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/rs/xid"

	"github.com/inference-sim/netsim/sim"
)

const schema = `
CREATE TABLE IF NOT EXISTS results (
	run_id                TEXT PRIMARY KEY,
	configuration_hash    TEXT NOT NULL,
	cycle                 INTEGER NOT NULL,
	injected_load         REAL NOT NULL,
	accepted_load         REAL NOT NULL,
	average_message_delay REAL NOT NULL,
	average_packet_hops   REAL NOT NULL,
	record                TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS results_configuration ON results (configuration_hash);
`

// Record is one stored run. JSON is the full result as written by the CLI.
type Record struct {
	RunID               string
	ConfigurationHash   string
	Cycle               int64
	InjectedLoad        float64
	AcceptedLoad        float64
	AverageMessageDelay float64
	AveragePacketHops   float64
	JSON                string
}

// Store is a SQLite result database. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	insert *sql.Stmt
	path   string
}

// DefaultPath returns a fresh database file name in the working directory.
func DefaultPath() string {
	return fmt.Sprintf("netsim_%s.sqlite3", xid.New().String())
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath()
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening result store %s: %w", path, err)
	}
	// SQLite serializes writers; a single connection avoids busy errors.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating result tables in %s: %w", path, err)
	}
	stmt, err := db.Prepare(`INSERT INTO results
		(run_id, configuration_hash, cycle, injected_load, accepted_load, average_message_delay, average_packet_hops, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("preparing result insert: %w", err)
	}
	return &Store{db: db, insert: stmt, path: path}, nil
}

// Path is the database file.
func (s *Store) Path() string { return s.path }

// Insert stores r. Its RunID must be unique within the database.
func (s *Store) Insert(r *sim.Result) error {
	if r.RunID == "" {
		return fmt.Errorf("storing result: empty run_id")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding result %s: %w", r.RunID, err)
	}
	_, err = s.insert.Exec(r.RunID, r.ConfigurationHash, r.Cycle, r.InjectedLoad, r.AcceptedLoad,
		r.AverageMessageDelay, r.AveragePacketHops, string(data))
	if err != nil {
		return fmt.Errorf("storing result %s: %w", r.RunID, err)
	}
	return nil
}

// Results returns every stored run, optionally restricted to one
// configuration hash, in insertion order.
func (s *Store) Results(configurationHash string) ([]Record, error) {
	query := `SELECT run_id, configuration_hash, cycle, injected_load, accepted_load,
		average_message_delay, average_packet_hops, record FROM results`
	var args []any
	if configurationHash != "" {
		query += ` WHERE configuration_hash = ?`
		args = append(args, configurationHash)
	}
	query += ` ORDER BY rowid`
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.RunID, &r.ConfigurationHash, &r.Cycle, &r.InjectedLoad, &r.AcceptedLoad,
			&r.AverageMessageDelay, &r.AveragePacketHops, &r.JSON); err != nil {
			return nil, fmt.Errorf("reading result row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the database.
func (s *Store) Close() error {
	if err := s.insert.Close(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}
