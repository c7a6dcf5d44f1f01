// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package store is the single durable home of everything the monitor
// learns: observed network identities, the user's pets, their time-series
// samples and their relationships. All collectors write through it and the
// pet AI and query façade read from it; it owns the schema and serializes
// concurrent writers.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	// Pure-Go sqlite driver.
	_ "modernc.org/sqlite"

	"github.com/lanpets/lanpets/pkg/netinfo"
)

// ErrNotFound is returned by lookups for entities that do not exist.
var ErrNotFound = errors.New("not found")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS network_info (
    row_id INTEGER NOT NULL,
    mac VARCHAR(17),               -- MAC address (format: XX-XX-XX-XX-XX-XX)
    ip VARCHAR(15),                -- IPv4 address. NULL if not available.
    dns_hostname VARCHAR(255),     -- DNS hostname
    mdns_hostname VARCHAR(255),    -- mDNS hostname
    timestamp INTEGER DEFAULT (strftime('%s', 'now')), -- Unix time last updated
    UNIQUE (mac),
    UNIQUE (ip),
    UNIQUE (dns_hostname),
    PRIMARY KEY(row_id)
);

CREATE TABLE IF NOT EXISTS extra_network_info (
    network_id INTEGER NOT NULL,
    type VARCHAR(32) NOT NULL,     -- see netinfo.ExtraType
    info TEXT NOT NULL,
    UNIQUE (network_id, type),
    FOREIGN KEY(network_id) REFERENCES network_info(row_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS pet_info (
    row_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    identifier_type INTEGER,
    identifier_value VARCHAR(255),
    device_type INTEGER,
    description TEXT,
    mood INT,
    is_deleted BOOL DEFAULT 0,
    UNIQUE (name),
    PRIMARY KEY(row_id)
);

CREATE TABLE IF NOT EXISTS traffic_stats (
    name_id INTEGER NOT NULL,
    rx_bytes INTEGER NOT NULL,     -- Total bytes received
    tx_bytes INTEGER NOT NULL,     -- Total bytes transmitted
    timestamp INTEGER DEFAULT (strftime('%s', 'now')),
    FOREIGN KEY(name_id) REFERENCES pet_info(row_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS device_availability (
    name_id INT,
    is_availabile BOOLEAN,         -- Was available
    timestamp INTEGER DEFAULT (strftime('%s', 'now')),
    FOREIGN KEY(name_id) REFERENCES pet_info(row_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS device_cpu_stats (
    name_id INT,
    cpu_used_percent REAL,
    mem_used_percent REAL,
    timestamp INTEGER DEFAULT (strftime('%s', 'now')),
    FOREIGN KEY(name_id) REFERENCES pet_info(row_id) ON DELETE CASCADE,
    CHECK (cpu_used_percent >= 0 AND mem_used_percent >= 0)
);

CREATE TABLE IF NOT EXISTS pet_relationships (
    name1_id INT,                  -- Pet whose name comes first alphabetically
    name2_id INT,                  -- Pet whose name comes last alphabetically
    relationship INT,
    UNIQUE (name1_id, name2_id),
    FOREIGN KEY(name1_id) REFERENCES pet_info(row_id) ON DELETE CASCADE,
    FOREIGN KEY(name2_id) REFERENCES pet_info(row_id) ON DELETE CASCADE
);
`

// Store wraps the sqlite database file. It is safe for concurrent use;
// sqlite serializes the writers.
type Store struct {
	db *sqlx.DB

	// hardCoded overrides pet resolution, keyed by pet name.
	hardCoded map[string]netinfo.Info
}

// Option customizes a Store at open time.
type Option func(*Store)

// WithHardCodedInterfaces layers a configured name -> interface override
// map into pet resolution.
func WithHardCodedInterfaces(ifaces map[string]netinfo.Info) Option {
	return func(s *Store) {
		s.hardCoded = ifaces
	}
}

// Open opens (creating if needed) the database at path. ":memory:" is
// accepted for tests.
func Open(path string, opts ...Option) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
	}
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	// A single connection keeps the foreign-key pragma applied to every
	// statement and lets sqlite serialize the collectors' writes.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	log.WithField("path", path).Debug("Database opened")
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// retentionTables is the allowlist for DeleteEntriesOlderThan.
var retentionTables = map[string]bool{
	"traffic_stats":       true,
	"device_availability": true,
	"device_cpu_stats":    true,
}

// DeleteEntriesOlderThan removes every row of a sample table whose
// timestamp is strictly below cutoff.
func (s *Store) DeleteEntriesOlderThan(table string, cutoffTimestamp int64) error {
	if !retentionTables[table] {
		return fmt.Errorf("table %q is not subject to retention", table)
	}
	res, err := s.db.Exec(
		fmt.Sprintf("DELETE FROM %s WHERE timestamp < ?", table), cutoffTimestamp)
	if err != nil {
		return fmt.Errorf("pruning %s: %w", table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.WithFields(log.Fields{"table": table, "rows": n}).Debug("Pruned old entries")
	}
	return nil
}

// nullable maps the empty string to NULL so that the UNIQUE constraints on
// the partial key columns only apply to observed values.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
