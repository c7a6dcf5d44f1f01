// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package store

import "fmt"

// IdentifierType selects which interface field a pet's identifier value is
// matched against.
type IdentifierType int

// Identifier types. HOST matches either the DNS or the mDNS hostname.
const (
	IdentifierMAC IdentifierType = iota + 1
	IdentifierHost
	IdentifierIP
)

func (t IdentifierType) String() string {
	switch t {
	case IdentifierMAC:
		return "MAC"
	case IdentifierHost:
		return "HOST"
	case IdentifierIP:
		return "IP"
	}
	return fmt.Sprintf("IdentifierType(%d)", int(t))
}

// ParseIdentifierType converts the textual form used in configs and the CLI.
func ParseIdentifierType(s string) (IdentifierType, error) {
	switch s {
	case "MAC":
		return IdentifierMAC, nil
	case "HOST":
		return IdentifierHost, nil
	case "IP":
		return IdentifierIP, nil
	}
	return 0, fmt.Errorf("unknown identifier type %q", s)
}

// DeviceType is the user-chosen device category of a pet.
type DeviceType int

// Device types.
const (
	DevicePC DeviceType = iota + 1
	DeviceLaptop
	DevicePhone
	DeviceIOT
	DeviceServer
	DeviceRouter
	DeviceMedia
	DeviceGames
	DeviceOther
)

var deviceTypeNames = map[DeviceType]string{
	DevicePC:     "PC",
	DeviceLaptop: "LAPTOP",
	DevicePhone:  "PHONE",
	DeviceIOT:    "IOT",
	DeviceServer: "SERVER",
	DeviceRouter: "ROUTER",
	DeviceMedia:  "MEDIA",
	DeviceGames:  "GAMES",
	DeviceOther:  "OTHER",
}

func (t DeviceType) String() string {
	if s, ok := deviceTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("DeviceType(%d)", int(t))
}

// ParseDeviceType converts the textual form used in configs and the CLI.
func ParseDeviceType(s string) (DeviceType, error) {
	for t, name := range deviceTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown device type %q", s)
}

// Mood is a pet's current affect. The values are ordered so that "adjacent"
// moods (off by one, wrapping around) are considered compatible by the
// pet AI.
type Mood int

// Moods.
const (
	MoodJolly Mood = iota + 1
	MoodSassy
	MoodCalm
	MoodModest
	MoodDreamy
	MoodImpish
	MoodSneaky
	MoodShy
)

// MoodCount is the number of defined moods.
const MoodCount = 8

var moodNames = map[Mood]string{
	MoodJolly:  "JOLLY",
	MoodSassy:  "SASSY",
	MoodCalm:   "CALM",
	MoodModest: "MODEST",
	MoodDreamy: "DREAMY",
	MoodImpish: "IMPISH",
	MoodSneaky: "SNEAKY",
	MoodShy:    "SHY",
}

func (m Mood) String() string {
	if s, ok := moodNames[m]; ok {
		return s
	}
	return fmt.Sprintf("Mood(%d)", int(m))
}

// Distance returns the wrap-around distance between two moods, 0..4.
func (m Mood) Distance(other Mood) int {
	d := int(m) - int(other)
	if d < 0 {
		d = -d
	}
	if wrapped := MoodCount - d; wrapped < d {
		d = wrapped
	}
	return d
}

// PetInfo is a user-curated alias for a network interface.
type PetInfo struct {
	Name            string         `db:"name"`
	IdentifierType  IdentifierType `db:"identifier_type"`
	IdentifierValue string         `db:"identifier_value"`
	DeviceType      DeviceType     `db:"device_type"`
	Description     string         `db:"description"`
	Mood            Mood           `db:"mood"`
}

// TrafficSample is one cumulative byte-counter observation for a pet.
type TrafficSample struct {
	RxBytes   int64 `db:"rx_bytes"`
	TxBytes   int64 `db:"tx_bytes"`
	Timestamp int64 `db:"timestamp"`
}

// CPUSample is one cpu/memory usage observation for a pet.
type CPUSample struct {
	CPUUsedPercent float64 `db:"cpu_used_percent"`
	MemUsedPercent float64 `db:"mem_used_percent"`
	Timestamp      int64   `db:"timestamp"`
}

// TrafficStats summarizes a traffic series as mean rates plus totals.
type TrafficStats struct {
	RxBytes   float64
	TxBytes   float64
	Timestamp int64
	RxBPS     float64
	TxBPS     float64
}

// RelationshipKind is the type of a pairwise pet relationship.
type RelationshipKind int

// Relationship kinds.
const (
	RelationshipFriends RelationshipKind = iota + 1
	RelationshipEnemy
)

func (k RelationshipKind) String() string {
	switch k {
	case RelationshipFriends:
		return "FRIENDS"
	case RelationshipEnemy:
		return "ENEMY"
	}
	return fmt.Sprintf("RelationshipKind(%d)", int(k))
}

// Relationship is a canonicalized pair of pet names with its kind.
// Name1 < Name2 lexicographically.
type Relationship struct {
	Name1 string
	Name2 string
	Kind  RelationshipKind
}

// OrderedNames canonicalizes a pair of pet names.
func OrderedNames(name1, name2 string) (string, string) {
	if name1 < name2 {
		return name1, name2
	}
	return name2, name1
}
