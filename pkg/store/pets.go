// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lanpets/lanpets/pkg/netinfo"
)

// UpsertPet inserts a pet or, on a name collision, overwrites every field
// and revives the row if it had been soft-deleted.
func (s *Store) UpsertPet(pet PetInfo) error {
	_, err := s.db.Exec(`
        INSERT INTO pet_info(name, identifier_type, identifier_value, device_type, description, mood)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(name) DO UPDATE
        SET identifier_type=excluded.identifier_type,
            identifier_value=excluded.identifier_value,
            device_type=excluded.device_type,
            description=excluded.description,
            mood=excluded.mood,
            is_deleted=0`,
		pet.Name, pet.IdentifierType, pet.IdentifierValue, pet.DeviceType, pet.Description, pet.Mood)
	if err != nil {
		return fmt.Errorf("upserting pet %s: %w", pet.Name, err)
	}
	return nil
}

// SoftDeletePet marks a pet deleted. Idempotent; the row and its samples
// are kept so that re-adding the same name revives its history.
func (s *Store) SoftDeletePet(name string) error {
	if _, err := s.db.Exec("UPDATE pet_info SET is_deleted=1 WHERE name=?", name); err != nil {
		return fmt.Errorf("deleting pet %s: %w", name, err)
	}
	return nil
}

// GetPet returns a non-deleted pet by name, or ErrNotFound.
func (s *Store) GetPet(name string) (PetInfo, error) {
	var pet PetInfo
	err := s.db.Get(&pet, `
        SELECT name, identifier_type, identifier_value, device_type, description, mood
        FROM pet_info WHERE name=? AND NOT is_deleted`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return PetInfo{}, fmt.Errorf("pet %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return PetInfo{}, fmt.Errorf("loading pet %s: %w", name, err)
	}
	return pet, nil
}

// ListPets returns every non-deleted pet.
func (s *Store) ListPets() ([]PetInfo, error) {
	var pets []PetInfo
	err := s.db.Select(&pets, `
        SELECT name, identifier_type, identifier_value, device_type, description, mood
        FROM pet_info WHERE NOT is_deleted ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing pets: %w", err)
	}
	return pets, nil
}

// UpdatePetMood sets a single pet's mood. No-op when the pet is absent.
func (s *Store) UpdatePetMood(name string, mood Mood) error {
	if _, err := s.db.Exec("UPDATE pet_info SET mood=? WHERE name=?", mood, name); err != nil {
		return fmt.Errorf("updating mood of %s: %w", name, err)
	}
	return nil
}

// Resolved ties a pet to the interface record it currently matches. RowID
// is 0 when the interface is synthetic (no collector has observed the pet
// yet) or hard-coded.
type Resolved struct {
	Pet       PetInfo
	Interface netinfo.Info
	RowID     int64
}

// ResolvePets maps each pet to its current interface record by equating the
// pet's identifier value against the field named by its identifier type
// (HOST matches either hostname flavor). Resolution is total: pets without
// a match get a synthetic record carrying just the identifier value, so
// callers never branch on "no interface". Configured hard-coded interfaces
// override observation.
func (s *Store) ResolvePets(pets []PetInfo) (map[string]Resolved, error) {
	rows, err := s.listNetworkRows()
	if err != nil {
		return nil, err
	}
	resolved := make(map[string]Resolved, len(pets))
	for _, pet := range pets {
		if iface, ok := s.hardCoded[pet.Name]; ok {
			resolved[pet.Name] = Resolved{Pet: pet, Interface: iface}
			continue
		}
		resolved[pet.Name] = resolveOne(pet, rows)
	}
	return resolved, nil
}

func resolveOne(pet PetInfo, rows []networkRow) Resolved {
	matches := func(n netinfo.Info) bool {
		switch pet.IdentifierType {
		case IdentifierMAC:
			return n.MAC == pet.IdentifierValue
		case IdentifierIP:
			return n.IP == pet.IdentifierValue
		case IdentifierHost:
			return n.DNSHostname == pet.IdentifierValue || n.MDNSHostname == pet.IdentifierValue
		}
		return false
	}
	for _, row := range rows {
		if matches(row.Info) {
			return Resolved{Pet: pet, Interface: row.Info, RowID: row.RowID}
		}
	}
	// Synthetic fallback: the identifier value under its own field.
	var iface netinfo.Info
	switch pet.IdentifierType {
	case IdentifierMAC:
		iface.MAC = pet.IdentifierValue
	case IdentifierIP:
		iface.IP = pet.IdentifierValue
	case IdentifierHost:
		iface.DNSHostname = pet.IdentifierValue
	}
	return Resolved{Pet: pet, Interface: iface}
}
