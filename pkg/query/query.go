// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package query is the read-only façade over the store, assembling the
// per-pet projections the CLI (or a web UI) presents.
package query

import (
	"fmt"
	"time"

	"github.com/lanpets/lanpets/pkg/netinfo"
	"github.com/lanpets/lanpets/pkg/store"
)

// PetSummary joins everything known about one pet.
type PetSummary struct {
	Pet             store.PetInfo
	Interface       netinfo.Info
	ExtraInfo       map[netinfo.ExtraType]string
	Online          bool
	AvailabilityPct float64
	LastSeen        time.Time // zero when never seen
	Traffic         store.TrafficStats
	Relationships   map[string]store.RelationshipKind
}

// Monitor answers read-only questions about the monitored LAN.
type Monitor struct {
	store  *store.Store
	window time.Duration
}

// New builds a query façade reading samples over the given window.
func New(st *store.Store, window time.Duration) *Monitor {
	return &Monitor{store: st, window: window}
}

// Summaries assembles the full projection for every pet, keyed by name.
func (m *Monitor) Summaries() (map[string]PetSummary, error) {
	pets, err := m.store.ListPets()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(pets))
	for i, p := range pets {
		names[i] = p.Name
	}
	since := time.Now().Add(-m.window).Unix()

	resolved, err := m.store.ResolvePets(pets)
	if err != nil {
		return nil, err
	}
	availability, err := m.store.MeanAvailability(names, since)
	if err != nil {
		return nil, err
	}
	online, err := m.store.CurrentAvailability(names)
	if err != nil {
		return nil, err
	}
	lastSeen, err := m.store.LastSeen(names)
	if err != nil {
		return nil, err
	}
	traffic, err := m.store.LoadTraffic(names, since)
	if err != nil {
		return nil, err
	}
	relMap, err := m.store.GetRelationshipMap(names)
	if err != nil {
		return nil, err
	}

	out := make(map[string]PetSummary, len(pets))
	for _, pet := range pets {
		r := resolved[pet.Name]
		summary := PetSummary{
			Pet:             pet,
			Interface:       r.Interface,
			ExtraInfo:       map[netinfo.ExtraType]string{},
			Online:          online[pet.Name],
			AvailabilityPct: availability[pet.Name],
			Traffic:         store.MeanBPS(traffic[pet.Name], true),
			Relationships:   relMap.Relationships(pet.Name),
		}
		if ts := lastSeen[pet.Name]; ts != 0 {
			summary.LastSeen = time.Unix(ts, 0)
		}
		if r.RowID != 0 {
			extra, err := m.store.ExtraInfoForRow(r.RowID)
			if err != nil {
				return nil, err
			}
			summary.ExtraInfo = extra
		}
		out[pet.Name] = summary
	}
	return out, nil
}

// Summary assembles the projection for a single pet.
func (m *Monitor) Summary(name string) (PetSummary, error) {
	all, err := m.Summaries()
	if err != nil {
		return PetSummary{}, err
	}
	summary, ok := all[name]
	if !ok {
		return PetSummary{}, fmt.Errorf("pet %s: %w", name, store.ErrNotFound)
	}
	return summary, nil
}

// Interfaces lists every observed network identity.
func (m *Monitor) Interfaces() ([]netinfo.Info, error) {
	return m.store.ListNetworkInfo()
}

// Relationships lists every stored relationship in canonical order.
func (m *Monitor) Relationships() ([]store.Relationship, error) {
	return m.store.GetAllRelationships()
}
