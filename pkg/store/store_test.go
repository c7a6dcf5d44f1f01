// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanpets/lanpets/pkg/netinfo"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func addPet(t *testing.T, s *Store, name string, idType IdentifierType, idValue string) {
	t.Helper()
	require.NoError(t, s.UpsertPet(PetInfo{
		Name:            name,
		IdentifierType:  idType,
		IdentifierValue: idValue,
		DeviceType:      DeviceOther,
		Mood:            MoodJolly,
	}))
}

func TestSchemaIdempotent(t *testing.T) {
	s := openTestStore(t)
	_, err := s.db.Exec(schemaSQL)
	require.NoError(t, err)
}

func TestAddNetworkInfoDisjoint(t *testing.T) {
	s := openTestStore(t)
	recs := []netinfo.Info{
		{Timestamp: 1, IP: "10.0.0.1", MAC: "AA-AA-AA-AA-AA-00", DNSHostname: "zero.lan"},
		{Timestamp: 2, IP: "10.0.0.2", MAC: "AA-AA-AA-AA-AA-01", DNSHostname: "one.lan"},
		{Timestamp: 3, IP: "10.0.0.3", MAC: "AA-AA-AA-AA-AA-02", DNSHostname: "two.lan"},
	}
	for _, r := range recs {
		require.NoError(t, s.AddNetworkInfo(r, nil))
	}
	got, err := s.ListNetworkInfo()
	require.NoError(t, err)
	assert.ElementsMatch(t, recs, got)
}

func TestAddNetworkInfoIdempotent(t *testing.T) {
	s := openTestStore(t)
	rec := netinfo.Info{Timestamp: 1, IP: "10.0.0.1", MAC: "AA-AA-AA-AA-AA-00"}
	require.NoError(t, s.AddNetworkInfo(rec, nil))
	require.NoError(t, s.AddNetworkInfo(rec, nil))
	got, err := s.ListNetworkInfo()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec, got[0])
}

func TestAddNetworkInfoOverlap(t *testing.T) {
	s := openTestStore(t)
	for _, r := range []netinfo.Info{
		{Timestamp: 1, IP: "10.0.0.1", MAC: "AA-AA-AA-AA-AA-00", DNSHostname: "zero.lan"},
		{Timestamp: 2, IP: "10.0.0.2", MAC: "AA-AA-AA-AA-AA-01", DNSHostname: "one.lan"},
		{Timestamp: 3, IP: "10.0.0.3", MAC: "AA-AA-AA-AA-AA-02", DNSHostname: "two.lan"},
	} {
		require.NoError(t, s.AddNetworkInfo(r, nil))
	}

	// One key from each stored row. The dns match is the most specific, so
	// the third row absorbs the observation; the others lose the matched key.
	rX := netinfo.Info{Timestamp: 4, MAC: "AA-AA-AA-AA-AA-00", IP: "10.0.0.2", DNSHostname: "two.lan"}
	require.NoError(t, s.AddNetworkInfo(rX, map[netinfo.ExtraType]string{netinfo.ExtraDHCPName: "petbox"}))

	got, err := s.ListNetworkInfo()
	require.NoError(t, err)
	assert.ElementsMatch(t, []netinfo.Info{
		{Timestamp: 4, MAC: "AA-AA-AA-AA-AA-00", IP: "10.0.0.2", DNSHostname: "two.lan"},
		{Timestamp: 1, IP: "10.0.0.1", DNSHostname: "zero.lan"},
		{Timestamp: 2, MAC: "AA-AA-AA-AA-AA-01", DNSHostname: "one.lan"},
	}, got)

	rows, err := s.listNetworkRows()
	require.NoError(t, err)
	for _, row := range rows {
		extra, err := s.ExtraInfoForRow(row.RowID)
		require.NoError(t, err)
		if row.Info.DNSHostname == "two.lan" {
			assert.Equal(t, map[netinfo.ExtraType]string{netinfo.ExtraDHCPName: "petbox"}, extra)
		} else {
			assert.Empty(t, extra)
		}
	}
}

func TestAddNetworkInfoSubsumesSingleKeyRow(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AddNetworkInfo(netinfo.Info{Timestamp: 1, IP: "10.0.0.1"}, nil))
	require.NoError(t, s.AddNetworkInfo(netinfo.Info{Timestamp: 2, MAC: "AA-AA-AA-AA-AA-00", DNSHostname: "pet.lan"}, nil))

	// Shares its only key with the first row and a better key with the
	// second; the first row has nothing left and is deleted.
	rec := netinfo.Info{Timestamp: 3, IP: "10.0.0.1", MAC: "AA-AA-AA-AA-AA-00"}
	require.NoError(t, s.AddNetworkInfo(rec, nil))

	got, err := s.ListNetworkInfo()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, netinfo.Info{
		Timestamp: 3, IP: "10.0.0.1", MAC: "AA-AA-AA-AA-AA-00", DNSHostname: "pet.lan",
	}, got[0])
}

func TestAddNetworkInfoRejectsEmptyRecord(t *testing.T) {
	s := openTestStore(t)
	err := s.AddNetworkInfo(netinfo.Info{Timestamp: 1, MDNSHostname: "pet.local."}, nil)
	assert.ErrorIs(t, err, netinfo.ErrNoIdentifier)
}

func TestPetLifecycle(t *testing.T) {
	s := openTestStore(t)
	addPet(t, s, "rex", IdentifierMAC, "AA-AA-AA-AA-AA-00")
	addPet(t, s, "fifi", IdentifierIP, "10.0.0.2")
	require.NoError(t, s.AddRelationship("rex", "fifi", RelationshipFriends))

	pet, err := s.GetPet("rex")
	require.NoError(t, err)
	assert.Equal(t, IdentifierMAC, pet.IdentifierType)

	require.NoError(t, s.SoftDeletePet("rex"))
	_, err = s.GetPet("rex")
	assert.ErrorIs(t, err, ErrNotFound)
	pets, err := s.ListPets()
	require.NoError(t, err)
	require.Len(t, pets, 1)

	// Re-adding the same name revives the row: new fields, old relationships.
	require.NoError(t, s.UpsertPet(PetInfo{
		Name:            "rex",
		IdentifierType:  IdentifierHost,
		IdentifierValue: "rex.lan",
		DeviceType:      DeviceServer,
		Mood:            MoodSneaky,
	}))
	pet, err = s.GetPet("rex")
	require.NoError(t, err)
	assert.Equal(t, IdentifierHost, pet.IdentifierType)
	assert.Equal(t, DeviceServer, pet.DeviceType)

	rels, err := s.GetAllRelationships()
	require.NoError(t, err)
	assert.Equal(t, []Relationship{{Name1: "fifi", Name2: "rex", Kind: RelationshipFriends}}, rels)
}

func TestUpdatePetMood(t *testing.T) {
	s := openTestStore(t)
	addPet(t, s, "rex", IdentifierMAC, "AA-AA-AA-AA-AA-00")
	require.NoError(t, s.UpdatePetMood("rex", MoodDreamy))
	pet, err := s.GetPet("rex")
	require.NoError(t, err)
	assert.Equal(t, MoodDreamy, pet.Mood)
}

func TestResolvePets(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AddNetworkInfo(netinfo.Info{
		Timestamp: 1, IP: "10.0.0.1", MAC: "AA-AA-AA-AA-AA-00", MDNSHostname: "rex.local.",
	}, nil))

	addPet(t, s, "rex", IdentifierMAC, "AA-AA-AA-AA-AA-00")
	addPet(t, s, "momo", IdentifierHost, "rex.local.") // matches the mdns hostname
	addPet(t, s, "ghost", IdentifierIP, "10.9.9.9")    // never observed

	pets, err := s.ListPets()
	require.NoError(t, err)
	resolved, err := s.ResolvePets(pets)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", resolved["rex"].Interface.IP)
	assert.NotZero(t, resolved["rex"].RowID)
	assert.Equal(t, "10.0.0.1", resolved["momo"].Interface.IP)

	// Resolution is total: unobserved pets get a synthetic record carrying
	// the identifier value under its own field.
	assert.Zero(t, resolved["ghost"].RowID)
	assert.Equal(t, "10.9.9.9", resolved["ghost"].Interface.IP)
}

func TestResolvePetsHardCoded(t *testing.T) {
	iface := netinfo.Info{IP: "10.0.0.42", MAC: "AA-AA-AA-AA-AA-42"}
	s := openTestStore(t, WithHardCodedInterfaces(map[string]netinfo.Info{"rex": iface}))
	require.NoError(t, s.AddNetworkInfo(netinfo.Info{Timestamp: 1, MAC: "AA-AA-AA-AA-AA-00"}, nil))
	addPet(t, s, "rex", IdentifierMAC, "AA-AA-AA-AA-AA-00")

	pets, err := s.ListPets()
	require.NoError(t, err)
	resolved, err := s.ResolvePets(pets)
	require.NoError(t, err)
	assert.Equal(t, iface, resolved["rex"].Interface)
	assert.Zero(t, resolved["rex"].RowID)
}

func TestAvailability(t *testing.T) {
	s := openTestStore(t)
	addPet(t, s, "rex", IdentifierMAC, "AA-AA-AA-AA-AA-00")
	require.NoError(t, s.AppendAvailability("rex", false, 1))
	require.NoError(t, s.AppendAvailability("rex", true, 2))

	mean, err := s.MeanAvailability([]string{"rex", "ghost"}, 0)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"rex": 50.0, "ghost": 0}, mean)

	current, err := s.CurrentAvailability([]string{"rex", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"rex": true, "ghost": false}, current)

	lastSeen, err := s.LastSeen([]string{"rex", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"rex": 2, "ghost": 0}, lastSeen)
}

func TestAppendSampleForUnknownPetIsNoOp(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AppendAvailability("ghost", true, 1))
	require.NoError(t, s.AppendTraffic("ghost", 1, 2, 1))
	require.NoError(t, s.AppendCPU("ghost", 1, 2, 1))

	var n int
	require.NoError(t, s.db.Get(&n, "SELECT COUNT(*) FROM device_availability"))
	assert.Zero(t, n)
}

func TestTrafficAggregation(t *testing.T) {
	s := openTestStore(t)
	addPet(t, s, "rex", IdentifierMAC, "AA-AA-AA-AA-AA-00")
	require.NoError(t, s.AppendTraffic("rex", 0, 0, 0))
	require.NoError(t, s.AppendTraffic("rex", 100, 200, 1))

	series, err := s.LoadTraffic([]string{"rex"}, 0)
	require.NoError(t, err)
	stats := MeanBPS(series["rex"], false)
	assert.Equal(t, 100.0, stats.RxBPS)
	assert.Equal(t, 200.0, stats.TxBPS)
	assert.Equal(t, 100.0, stats.RxBytes)
	assert.Equal(t, 200.0, stats.TxBytes)
	assert.Equal(t, int64(1), stats.Timestamp)
}

func TestMeanBPS(t *testing.T) {
	samples := []TrafficSample{
		{RxBytes: 100, TxBytes: 100, Timestamp: 0},
		{RxBytes: 300, TxBytes: 100, Timestamp: 2}, // 100 B/s rx, idle tx
		{RxBytes: 50, TxBytes: 100, Timestamp: 4},  // counter reset
	}
	stats := MeanBPS(samples, false)
	assert.GreaterOrEqual(t, stats.RxBPS, 0.0)
	assert.Equal(t, 50.0, stats.RxBPS) // (100 + 0) / 2 intervals
	assert.Equal(t, 0.0, stats.TxBPS)
	assert.Equal(t, 200.0, stats.RxBytes)

	// Idle and reset intervals excluded from the mean.
	stats = MeanBPS(samples, true)
	assert.Equal(t, 100.0, stats.RxBPS)
	assert.Equal(t, 0.0, stats.TxBPS)

	assert.Equal(t, TrafficStats{}, MeanBPS(samples[:1], false))
	assert.Equal(t, TrafficStats{}, MeanBPS(nil, false))
}

func TestRelationshipCanonicalOrder(t *testing.T) {
	s := openTestStore(t)
	addPet(t, s, "alice", IdentifierIP, "10.0.0.1")
	addPet(t, s, "bob", IdentifierIP, "10.0.0.2")
	require.NoError(t, s.AddRelationship("bob", "alice", RelationshipFriends))

	rels, err := s.GetAllRelationships()
	require.NoError(t, err)
	assert.Equal(t, []Relationship{{Name1: "alice", Name2: "bob", Kind: RelationshipFriends}}, rels)

	// Re-adding the pair in either order replaces the kind.
	require.NoError(t, s.AddRelationship("alice", "bob", RelationshipEnemy))
	rels, err = s.GetAllRelationships()
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, RelationshipEnemy, rels[0].Kind)

	require.NoError(t, s.RemoveRelationship("bob", "alice"))
	rels, err = s.GetAllRelationships()
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestRelMap(t *testing.T) {
	s := openTestStore(t)
	for _, name := range []string{"alice", "bob", "carol"} {
		addPet(t, s, name, IdentifierHost, name+".lan")
	}
	require.NoError(t, s.AddRelationship("alice", "bob", RelationshipFriends))

	m, err := s.GetRelationshipMap([]string{"alice", "bob", "carol"})
	require.NoError(t, err)

	kind, ok := m.Relationship("bob", "alice")
	require.True(t, ok)
	assert.Equal(t, RelationshipFriends, kind)

	require.NoError(t, m.Add("carol", "bob", RelationshipEnemy))
	assert.Equal(t, map[string]RelationshipKind{
		"alice": RelationshipFriends,
		"carol": RelationshipEnemy,
	}, m.Relationships("bob"))

	require.NoError(t, m.Remove("alice", "bob"))
	_, ok = m.Relationship("alice", "bob")
	assert.False(t, ok)

	// Mutations reached the store too.
	rels, err := s.GetAllRelationships()
	require.NoError(t, err)
	assert.Equal(t, []Relationship{{Name1: "bob", Name2: "carol", Kind: RelationshipEnemy}}, rels)
}

func TestRetention(t *testing.T) {
	s := openTestStore(t)
	addPet(t, s, "rex", IdentifierMAC, "AA-AA-AA-AA-AA-00")
	for ts := int64(1); ts <= 5; ts++ {
		require.NoError(t, s.AppendAvailability("rex", true, ts))
	}
	require.NoError(t, s.DeleteEntriesOlderThan("device_availability", 3))

	var minTS int64
	require.NoError(t, s.db.Get(&minTS, "SELECT MIN(timestamp) FROM device_availability"))
	assert.Equal(t, int64(3), minTS)

	assert.Error(t, s.DeleteEntriesOlderThan("pet_info", 3))
	assert.Error(t, s.DeleteEntriesOlderThan("device_availability; DROP TABLE pet_info", 3))
}

func TestMoodDistance(t *testing.T) {
	assert.Equal(t, 0, MoodJolly.Distance(MoodJolly))
	assert.Equal(t, 1, MoodJolly.Distance(MoodSassy))
	assert.Equal(t, 1, MoodJolly.Distance(MoodShy)) // wrap-around
	assert.Equal(t, 4, MoodJolly.Distance(MoodDreamy))
	assert.Equal(t, 3, MoodSneaky.Distance(MoodSassy))
}
