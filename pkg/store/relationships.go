// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package store

import (
	"fmt"
)

// AddRelationship records a relationship between two pets. The pair is
// canonicalized; an existing relationship between the same pair is
// replaced.
func (s *Store) AddRelationship(name1, name2 string, kind RelationshipKind) error {
	a, b := OrderedNames(name1, name2)
	_, err := s.db.Exec(`
        INSERT INTO pet_relationships (name1_id, name2_id, relationship)
        SELECT n1.row_id, n2.row_id, ?
        FROM (SELECT row_id FROM pet_info WHERE name=?) n1,
             (SELECT row_id FROM pet_info WHERE name=?) n2
        WHERE true
        ON CONFLICT(name1_id, name2_id) DO UPDATE SET relationship=excluded.relationship`,
		kind, a, b)
	if err != nil {
		return fmt.Errorf("adding relationship %s/%s: %w", a, b, err)
	}
	return nil
}

// RemoveRelationship deletes the relationship between two pets, in either
// name order. No-op when none exists.
func (s *Store) RemoveRelationship(name1, name2 string) error {
	a, b := OrderedNames(name1, name2)
	_, err := s.db.Exec(`
        DELETE FROM pet_relationships
        WHERE rowid IN (
            SELECT r.rowid FROM pet_relationships r
            JOIN pet_info n1 ON n1.row_id = r.name1_id
            JOIN pet_info n2 ON n2.row_id = r.name2_id
            WHERE n1.name = ? AND n2.name = ?
        )`, a, b)
	if err != nil {
		return fmt.Errorf("removing relationship %s/%s: %w", a, b, err)
	}
	return nil
}

// GetAllRelationships returns every stored relationship in canonical
// order.
func (s *Store) GetAllRelationships() ([]Relationship, error) {
	rows, err := s.db.Query(`
        SELECT n1.name, n2.name, r.relationship
        FROM pet_relationships r
        JOIN pet_info n1 ON n1.row_id = r.name1_id
        JOIN pet_info n2 ON n2.row_id = r.name2_id
        ORDER BY n1.name, n2.name`)
	if err != nil {
		return nil, fmt.Errorf("loading relationships: %w", err)
	}
	defer rows.Close()
	var out []Relationship
	for rows.Next() {
		var r Relationship
		if err := rows.Scan(&r.Name1, &r.Name2, &r.Kind); err != nil {
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RelMap is an in-memory view of the relationships touching a set of pets.
// Mutations go through the store and are mirrored locally, so a caller
// iterating within one tick never double-applies an operation.
type RelMap struct {
	store *Store
	rels  map[[2]string]RelationshipKind
}

// GetRelationshipMap loads the relationships involving any of the named
// pets into a mutable view.
func (s *Store) GetRelationshipMap(names []string) (*RelMap, error) {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	all, err := s.GetAllRelationships()
	if err != nil {
		return nil, err
	}
	m := &RelMap{store: s, rels: make(map[[2]string]RelationshipKind)}
	for _, r := range all {
		if wanted[r.Name1] || wanted[r.Name2] {
			m.rels[[2]string{r.Name1, r.Name2}] = r.Kind
		}
	}
	return m, nil
}

// Add records a relationship in the store and the view.
func (m *RelMap) Add(name1, name2 string, kind RelationshipKind) error {
	if err := m.store.AddRelationship(name1, name2, kind); err != nil {
		return err
	}
	a, b := OrderedNames(name1, name2)
	m.rels[[2]string{a, b}] = kind
	return nil
}

// Remove deletes a relationship from the store and the view.
func (m *RelMap) Remove(name1, name2 string) error {
	if err := m.store.RemoveRelationship(name1, name2); err != nil {
		return err
	}
	a, b := OrderedNames(name1, name2)
	delete(m.rels, [2]string{a, b})
	return nil
}

// Relationship returns the kind between two pets regardless of name order,
// and whether one exists.
func (m *RelMap) Relationship(name1, name2 string) (RelationshipKind, bool) {
	a, b := OrderedNames(name1, name2)
	kind, ok := m.rels[[2]string{a, b}]
	return kind, ok
}

// Relationships returns every partner of the named pet with the kind of
// their relationship.
func (m *RelMap) Relationships(name string) map[string]RelationshipKind {
	out := make(map[string]RelationshipKind)
	for pair, kind := range m.rels {
		switch name {
		case pair[0]:
			out[pair[1]] = kind
		case pair[1]:
			out[pair[0]] = kind
		}
	}
	return out
}
