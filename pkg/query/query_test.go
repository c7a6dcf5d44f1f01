// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanpets/lanpets/pkg/netinfo"
	"github.com/lanpets/lanpets/pkg/store"
)

func seedStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	now := time.Now().Unix()
	require.NoError(t, s.AddNetworkInfo(netinfo.Info{
		Timestamp: now, IP: "10.0.0.5", MAC: "AA-BB-CC-00-00-01",
	}, map[netinfo.ExtraType]string{netinfo.ExtraDHCPName: "rexbox"}))

	for name, id := range map[string]string{"rex": "10.0.0.5", "fifi": "10.0.0.6"} {
		require.NoError(t, s.UpsertPet(store.PetInfo{
			Name:            name,
			IdentifierType:  store.IdentifierIP,
			IdentifierValue: id,
			DeviceType:      store.DevicePC,
			Mood:            store.MoodJolly,
		}))
	}
	require.NoError(t, s.AppendAvailability("rex", false, now-40))
	require.NoError(t, s.AppendAvailability("rex", true, now-20))
	require.NoError(t, s.AppendTraffic("rex", 100, 200, now-10))
	require.NoError(t, s.AppendTraffic("rex", 1100, 2200, now))
	require.NoError(t, s.AddRelationship("rex", "fifi", store.RelationshipFriends))
	return s
}

func TestSummaries(t *testing.T) {
	s := seedStore(t)
	m := New(s, time.Hour)

	all, err := m.Summaries()
	require.NoError(t, err)
	require.Len(t, all, 2)

	rex := all["rex"]
	assert.Equal(t, "10.0.0.5", rex.Interface.IP)
	assert.Equal(t, "AA-BB-CC-00-00-01", rex.Interface.MAC)
	assert.Equal(t, "rexbox", rex.ExtraInfo[netinfo.ExtraDHCPName])
	assert.True(t, rex.Online)
	assert.Equal(t, 50.0, rex.AvailabilityPct)
	assert.False(t, rex.LastSeen.IsZero())
	assert.Equal(t, 100.0, rex.Traffic.RxBPS)
	assert.Equal(t, 200.0, rex.Traffic.TxBPS)
	assert.Equal(t, map[string]store.RelationshipKind{"fifi": store.RelationshipFriends},
		rex.Relationships)

	fifi := all["fifi"]
	assert.False(t, fifi.Online)
	assert.True(t, fifi.LastSeen.IsZero())
	assert.Empty(t, fifi.ExtraInfo, "synthetic interfaces carry no annotations")
}

func TestSummaryByName(t *testing.T) {
	s := seedStore(t)
	m := New(s, time.Hour)

	summary, err := m.Summary("rex")
	require.NoError(t, err)
	assert.Equal(t, "rex", summary.Pet.Name)

	_, err = m.Summary("nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInterfacesAndRelationships(t *testing.T) {
	s := seedStore(t)
	m := New(s, time.Hour)

	infos, err := m.Interfaces()
	require.NoError(t, err)
	assert.Len(t, infos, 1)

	rels, err := m.Relationships()
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, store.Relationship{Name1: "fifi", Name2: "rex", Kind: store.RelationshipFriends}, rels[0])
}
