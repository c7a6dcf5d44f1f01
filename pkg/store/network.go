// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package store

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/lanpets/lanpets/pkg/netinfo"
)

type networkRow struct {
	RowID int64
	Info  netinfo.Info
}

func scanNetworkRows(rows *sql.Rows) ([]networkRow, error) {
	var out []networkRow
	for rows.Next() {
		var (
			r                      networkRow
			mac, ip, dnsName, mdns sql.NullString
		)
		if err := rows.Scan(&r.RowID, &mac, &ip, &dnsName, &mdns, &r.Info.Timestamp); err != nil {
			return nil, err
		}
		r.Info.MAC = mac.String
		r.Info.IP = ip.String
		r.Info.DNSHostname = dnsName.String
		r.Info.MDNSHostname = mdns.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) listNetworkRows() ([]networkRow, error) {
	rows, err := s.db.Query(
		"SELECT row_id, mac, ip, dns_hostname, mdns_hostname, timestamp FROM network_info")
	if err != nil {
		return nil, fmt.Errorf("loading network info: %w", err)
	}
	defer rows.Close()
	out, err := scanNetworkRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning network info: %w", err)
	}
	return out, nil
}

// ListNetworkInfo returns every observed interface record.
func (s *Store) ListNetworkInfo() ([]netinfo.Info, error) {
	rows, err := s.listNetworkRows()
	if err != nil {
		return nil, err
	}
	infos := make([]netinfo.Info, len(rows))
	for i, r := range rows {
		infos[i] = r.Info
	}
	return infos, nil
}

// ExtraInfoForRow returns the typed annotations attached to an interface
// row. An empty map for unknown rows.
func (s *Store) ExtraInfoForRow(rowID int64) (map[netinfo.ExtraType]string, error) {
	rows, err := s.db.Query(
		"SELECT type, info FROM extra_network_info WHERE network_id=?", rowID)
	if err != nil {
		return nil, fmt.Errorf("loading extra info: %w", err)
	}
	defer rows.Close()
	out := make(map[netinfo.ExtraType]string)
	for rows.Next() {
		var typ, info string
		if err := rows.Scan(&typ, &info); err != nil {
			return nil, fmt.Errorf("scanning extra info: %w", err)
		}
		out[netinfo.ExtraType(typ)] = info
	}
	return out, rows.Err()
}

// AddNetworkInfo reconciles a new observation against the stored interface
// set. At most one row ever owns any given non-empty partial key
// (ip/mac/dns_hostname):
//
//   - no stored row shares a key: plain insert;
//   - otherwise the sharing row with the most specific matching key absorbs
//     the observation (field-wise union, newer observation wins per field);
//   - any other sharing row loses the matching keys, or the whole row when
//     nothing distinct would remain.
//
// Extra annotations are upserted per (row, type) onto the surviving row.
func (s *Store) AddNetworkInfo(rec netinfo.Info, extra map[netinfo.ExtraType]string) error {
	if !rec.HasIdentifier() {
		return netinfo.ErrNoIdentifier
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning merge: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		"SELECT row_id, mac, ip, dns_hostname, mdns_hostname, timestamp FROM network_info")
	if err != nil {
		return fmt.Errorf("loading network info: %w", err)
	}
	current, err := scanNetworkRows(rows)
	rows.Close()
	if err != nil {
		return fmt.Errorf("scanning network info: %w", err)
	}

	newKeys := rec.PartialKeys()
	type dup struct {
		row     networkRow
		matched []string
	}
	var (
		dups []dup
		best = -1 // index into dups
	)
	bestSpecificity := -1
	for _, row := range current {
		var matched []string
		for key, value := range row.Info.PartialKeys() {
			if newKeys[key] == value {
				matched = append(matched, key)
			}
		}
		if len(matched) == 0 {
			continue
		}
		sort.Strings(matched)
		dups = append(dups, dup{row: row, matched: matched})
		for _, key := range matched {
			if sp := netinfo.KeySpecificity(key); sp > bestSpecificity {
				bestSpecificity = sp
				best = len(dups) - 1
			}
		}
	}

	var targetRow int64
	if best < 0 {
		res, err := tx.Exec(`
            INSERT INTO network_info(mac, ip, dns_hostname, mdns_hostname, timestamp)
            VALUES (?, ?, ?, ?, ?)`,
			nullable(rec.MAC), nullable(rec.IP), nullable(rec.DNSHostname),
			nullable(rec.MDNSHostname), rec.Timestamp)
		if err != nil {
			return fmt.Errorf("inserting network info: %w", err)
		}
		if targetRow, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("inserting network info: %w", err)
		}
	} else {
		for i, d := range dups {
			if i == best {
				continue
			}
			if err := demoteDuplicate(tx, d.row, d.matched); err != nil {
				return err
			}
		}
		merged := netinfo.Merge(rec, dups[best].row.Info)
		targetRow = dups[best].row.RowID
		_, err := tx.Exec(`
            UPDATE network_info
            SET mac=?, ip=?, dns_hostname=?, mdns_hostname=?, timestamp=?
            WHERE row_id=?`,
			nullable(merged.MAC), nullable(merged.IP), nullable(merged.DNSHostname),
			nullable(merged.MDNSHostname), merged.Timestamp, targetRow)
		if err != nil {
			return fmt.Errorf("merging network info: %w", err)
		}
	}

	for typ, info := range extra {
		_, err := tx.Exec(`
            INSERT INTO extra_network_info(network_id, type, info) VALUES (?, ?, ?)
            ON CONFLICT(network_id, type) DO UPDATE SET info=excluded.info`,
			targetRow, string(typ), info)
		if err != nil {
			return fmt.Errorf("upserting extra info %s: %w", typ, err)
		}
	}
	return tx.Commit()
}

// demoteDuplicate strips the keys a lesser duplicate shares with the new
// observation. The row survives under its remaining distinct keys, or is
// deleted outright when none remain.
func demoteDuplicate(tx *sql.Tx, row networkRow, matched []string) error {
	matchedSet := make(map[string]bool, len(matched))
	for _, k := range matched {
		matchedSet[k] = true
	}
	hasDistinctKey := false
	for key := range row.Info.PartialKeys() {
		if !matchedSet[key] {
			hasDistinctKey = true
			break
		}
	}
	if !hasDistinctKey {
		if _, err := tx.Exec("DELETE FROM network_info WHERE row_id=?", row.RowID); err != nil {
			return fmt.Errorf("deleting subsumed row %d: %w", row.RowID, err)
		}
		log.WithField("row", row.RowID).Debug("Removed subsumed interface record")
		return nil
	}
	assignments := make([]string, 0, len(matched))
	for _, key := range matched {
		assignments = append(assignments, key+"=NULL")
	}
	_, err := tx.Exec(
		fmt.Sprintf("UPDATE network_info SET %s WHERE row_id=?", strings.Join(assignments, ",")),
		row.RowID)
	if err != nil {
		return fmt.Errorf("demoting row %d: %w", row.RowID, err)
	}
	return nil
}
