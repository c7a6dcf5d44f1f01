// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package store

import (
	"database/sql"
	"errors"
	"fmt"
)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// AppendAvailability records one reachability sample for a pet. Silently a
// no-op when the pet does not exist (it may have been deleted mid-cycle).
func (s *Store) AppendAvailability(name string, isAvailable bool, timestamp int64) error {
	_, err := s.db.Exec(`
        INSERT INTO device_availability (name_id, is_availabile, timestamp)
        SELECT row_id, ?, ? FROM pet_info WHERE name=?`,
		isAvailable, timestamp, name)
	if err != nil {
		return fmt.Errorf("appending availability for %s: %w", name, err)
	}
	return nil
}

// AppendTraffic records one cumulative byte-counter sample for a pet.
// Silently a no-op when the pet does not exist.
func (s *Store) AppendTraffic(name string, rxBytes, txBytes, timestamp int64) error {
	_, err := s.db.Exec(`
        INSERT INTO traffic_stats (name_id, rx_bytes, tx_bytes, timestamp)
        SELECT row_id, ?, ?, ? FROM pet_info WHERE name=?`,
		rxBytes, txBytes, timestamp, name)
	if err != nil {
		return fmt.Errorf("appending traffic for %s: %w", name, err)
	}
	return nil
}

// AppendCPU records one cpu/memory usage sample for a pet. Silently a
// no-op when the pet does not exist.
func (s *Store) AppendCPU(name string, cpuUsedPercent, memUsedPercent float64, timestamp int64) error {
	_, err := s.db.Exec(`
        INSERT INTO device_cpu_stats (name_id, cpu_used_percent, mem_used_percent, timestamp)
        SELECT row_id, ?, ?, ? FROM pet_info WHERE name=?`,
		cpuUsedPercent, memUsedPercent, timestamp, name)
	if err != nil {
		return fmt.Errorf("appending cpu stats for %s: %w", name, err)
	}
	return nil
}

// MeanAvailability returns, per pet, the percentage of samples since the
// given time where the pet was reachable. Pets without samples report 0.
func (s *Store) MeanAvailability(names []string, sinceTimestamp int64) (map[string]float64, error) {
	out := make(map[string]float64, len(names))
	for _, name := range names {
		out[name] = 0
		var pct *float64
		err := s.db.Get(&pct, `
            SELECT CAST(SUM(r.is_availabile) AS FLOAT) / COUNT(*) * 100
            FROM device_availability r
            JOIN pet_info n ON r.name_id = n.row_id
            WHERE r.timestamp > ? AND n.name = ?`, sinceTimestamp, name)
		if err != nil {
			return nil, fmt.Errorf("loading mean availability for %s: %w", name, err)
		}
		if pct != nil {
			out[name] = *pct
		}
	}
	return out, nil
}

// CurrentAvailability returns the most recent reachability sample per pet,
// false for pets with no samples.
func (s *Store) CurrentAvailability(names []string) (map[string]bool, error) {
	out := make(map[string]bool, len(names))
	for _, name := range names {
		out[name] = false
		var isAvailable bool
		err := s.db.Get(&isAvailable, `
            SELECT r.is_availabile
            FROM device_availability r
            JOIN pet_info n ON r.name_id = n.row_id
            WHERE n.name = ?
            ORDER BY r.timestamp DESC, r.rowid DESC
            LIMIT 1`, name)
		if err == nil {
			out[name] = isAvailable
		} else if !isNoRows(err) {
			return nil, fmt.Errorf("loading current availability for %s: %w", name, err)
		}
	}
	return out, nil
}

// LastSeen returns, per pet, the newest timestamp at which the pet was
// reachable, 0 when it never was.
func (s *Store) LastSeen(names []string) (map[string]int64, error) {
	out := make(map[string]int64, len(names))
	for _, name := range names {
		out[name] = 0
	}
	rows, err := s.db.Query(`
        SELECT n.name, MAX(r.timestamp)
        FROM device_availability r
        JOIN pet_info n ON r.name_id = n.row_id
        WHERE r.is_availabile
        GROUP BY r.name_id`)
	if err != nil {
		return nil, fmt.Errorf("loading last seen: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name string
			ts   int64
		)
		if err := rows.Scan(&name, &ts); err != nil {
			return nil, fmt.Errorf("scanning last seen: %w", err)
		}
		if _, wanted := out[name]; wanted {
			out[name] = ts
		}
	}
	return out, rows.Err()
}

// LoadTraffic returns each pet's traffic series since the given time,
// ordered by timestamp.
func (s *Store) LoadTraffic(names []string, sinceTimestamp int64) (map[string][]TrafficSample, error) {
	out := make(map[string][]TrafficSample, len(names))
	for _, name := range names {
		var samples []TrafficSample
		err := s.db.Select(&samples, `
            SELECT t.rx_bytes, t.tx_bytes, t.timestamp
            FROM traffic_stats t
            JOIN pet_info p ON t.name_id = p.row_id
            WHERE p.name = ? AND t.timestamp >= ?
            ORDER BY t.timestamp`, name, sinceTimestamp)
		if err != nil {
			return nil, fmt.Errorf("loading traffic for %s: %w", name, err)
		}
		out[name] = samples
	}
	return out, nil
}

// LoadCPU returns each pet's cpu/memory series since the given time,
// ordered by timestamp.
func (s *Store) LoadCPU(names []string, sinceTimestamp int64) (map[string][]CPUSample, error) {
	out := make(map[string][]CPUSample, len(names))
	for _, name := range names {
		var samples []CPUSample
		err := s.db.Select(&samples, `
            SELECT c.cpu_used_percent, c.mem_used_percent, c.timestamp
            FROM device_cpu_stats c
            JOIN pet_info p ON c.name_id = p.row_id
            WHERE p.name = ? AND c.timestamp >= ?
            ORDER BY c.timestamp`, name, sinceTimestamp)
		if err != nil {
			return nil, fmt.Errorf("loading cpu stats for %s: %w", name, err)
		}
		out[name] = samples
	}
	return out, nil
}

// MeanBPS reduces a cumulative-counter series to mean per-interval rates
// plus summed byte totals. Negative deltas (counter resets) contribute
// zero. When ignoreZero is set, intervals with no transferred bytes are
// excluded from the mean so long idle stretches do not dilute it.
func MeanBPS(samples []TrafficSample, ignoreZero bool) TrafficStats {
	if len(samples) < 2 {
		return TrafficStats{}
	}
	stats := TrafficStats{Timestamp: samples[len(samples)-1].Timestamp}

	sumRates := func(delta func(prev, cur TrafficSample) int64) (total float64, meanBPS float64) {
		var (
			rateSum   float64
			intervals int
		)
		for i := 1; i < len(samples); i++ {
			dt := samples[i].Timestamp - samples[i-1].Timestamp
			if dt <= 0 {
				continue
			}
			d := delta(samples[i-1], samples[i])
			if d < 0 {
				d = 0 // counter reset
			}
			if ignoreZero && d == 0 {
				continue
			}
			total += float64(d)
			rateSum += float64(d) / float64(dt)
			intervals++
		}
		if intervals > 0 {
			meanBPS = rateSum / float64(intervals)
		}
		return total, meanBPS
	}

	stats.RxBytes, stats.RxBPS = sumRates(func(prev, cur TrafficSample) int64 {
		return cur.RxBytes - prev.RxBytes
	})
	stats.TxBytes, stats.TxBPS = sumRates(func(prev, cur TrafficSample) int64 {
		return cur.TxBytes - prev.TxBytes
	})
	return stats
}
