// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package petai turns each pet's recent network behavior into a mood and
// slowly evolves friendships and enmities between the online ones.
package petai

import (
	"math/rand"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lanpets/lanpets/pkg/collector/check"
	"github.com/lanpets/lanpets/pkg/config"
	"github.com/lanpets/lanpets/pkg/netinfo"
	"github.com/lanpets/lanpets/pkg/store"
)

const checkName = "pet_ai"

var checkLog = log.WithField("check", checkName)

// MoodAttributes is the per-pet reduction of the sample window the mood
// algorithms run on.
type MoodAttributes struct {
	RxBPS           float64
	TxBPS           float64
	ServiceCount    int
	Online          bool
	AvailabilityPct float64
}

// Check is the periodic mood/relationship engine.
type Check struct {
	check.CheckBase

	store *store.Store
	cfg   config.PetAIConfig
	rand  *rand.Rand
}

// New builds the pet AI from its config section.
func New(cfg *config.PetAIConfig, st *store.Store) *Check {
	return &Check{
		CheckBase: check.NewCheckBase(checkName, time.Duration(cfg.UpdatePeriodSec)*time.Second),
		store:     st,
		cfg:       *cfg,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run executes one mood/relationship tick.
func (c *Check) Run() error {
	pets, err := c.store.ListPets()
	if err != nil {
		return err
	}
	if len(pets) == 0 {
		return nil
	}
	attrs, err := c.loadAttributes(pets)
	if err != nil {
		return err
	}

	moods := c.ComputeMoods(attrs)
	for _, pet := range pets {
		mood := moods[pet.Name]
		if mood == pet.Mood {
			continue
		}
		if err := c.store.UpdatePetMood(pet.Name, mood); err != nil {
			return err
		}
		checkLog.WithFields(log.Fields{
			"pet":  pet.Name,
			"from": pet.Mood,
			"to":   mood,
		}).Info("Mood changed")
	}

	return c.evolveRelationships(pets, attrs, moods)
}

// loadAttributes reduces the sample window to one MoodAttributes per pet.
func (c *Check) loadAttributes(pets []store.PetInfo) (map[string]MoodAttributes, error) {
	names := make([]string, len(pets))
	for i, p := range pets {
		names[i] = p.Name
	}
	since := time.Now().Unix() - c.cfg.HistoryWindowSec

	availability, err := c.store.MeanAvailability(names, since)
	if err != nil {
		return nil, err
	}
	online, err := c.store.CurrentAvailability(names)
	if err != nil {
		return nil, err
	}
	traffic, err := c.store.LoadTraffic(names, since)
	if err != nil {
		return nil, err
	}
	resolved, err := c.store.ResolvePets(pets)
	if err != nil {
		return nil, err
	}

	attrs := make(map[string]MoodAttributes, len(pets))
	for _, name := range names {
		stats := store.MeanBPS(traffic[name], true)
		a := MoodAttributes{
			RxBPS:           stats.RxBPS,
			TxBPS:           stats.TxBPS,
			Online:          online[name],
			AvailabilityPct: availability[name],
		}
		if r := resolved[name]; r.RowID != 0 {
			extra, err := c.store.ExtraInfoForRow(r.RowID)
			if err != nil {
				return nil, err
			}
			a.ServiceCount = countServices(extra)
		}
		attrs[name] = a
	}
	return attrs, nil
}

// countServices totals the advertised mDNS and scanned nmap services.
func countServices(extra map[netinfo.ExtraType]string) int {
	n := 0
	for _, typ := range []netinfo.ExtraType{netinfo.ExtraMDNSServices, netinfo.ExtraNMAPServices} {
		if list := extra[typ]; list != "" {
			n += len(strings.Split(list, ","))
		}
	}
	return n
}

// ComputeMoods maps every pet's attributes to a mood with the configured
// algorithm.
func (c *Check) ComputeMoods(attrs map[string]MoodAttributes) map[string]store.Mood {
	moods := make(map[string]store.Mood, len(attrs))
	switch c.cfg.MoodAlgorithm {
	case config.MoodRandom:
		for name := range attrs {
			moods[name] = store.Mood(c.rand.Intn(store.MoodCount) + 1)
		}
	case config.MoodActivity1:
		for name, a := range attrs {
			moods[name] = moodFromBits(
				a.AvailabilityPct >= c.cfg.UptimeThresholdPct,
				a.RxBPS > c.cfg.RxThresholdBPS,
				a.TxBPS > c.cfg.TxThresholdBPS,
			)
		}
	case config.MoodActivityServices:
		// Per-tick medians keep the population split roughly evenly
		// across the mood table no matter how busy the LAN is.
		var avail, rx, services []float64
		for _, a := range attrs {
			avail = append(avail, a.AvailabilityPct)
			rx = append(rx, a.RxBPS)
			services = append(services, float64(a.ServiceCount))
		}
		medAvail, medRx, medServices := median(avail), median(rx), median(services)
		for name, a := range attrs {
			moods[name] = moodFromBits(
				a.AvailabilityPct > medAvail,
				a.RxBPS > medRx,
				float64(a.ServiceCount) > medServices,
			)
		}
	}
	return moods
}

// moodFromBits indexes the 8-mood table with three behavior bits.
func moodFromBits(present, rx, tx bool) store.Mood {
	idx := 0
	if present {
		idx |= 4
	}
	if rx {
		idx |= 2
	}
	if tx {
		idx |= 1
	}
	return store.Mood(idx + 1)
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// evolveRelationships applies the stochastic friendship/enmity transitions
// to the online pets. A pet gains at most one friend and one enemy per
// tick, counting relationships where it was the chosen partner.
func (c *Check) evolveRelationships(pets []store.PetInfo, attrs map[string]MoodAttributes, moods map[string]store.Mood) error {
	names := make([]string, len(pets))
	for i, p := range pets {
		names[i] = p.Name
	}
	relMap, err := c.store.GetRelationshipMap(names)
	if err != nil {
		return err
	}

	var online []string
	for _, name := range names {
		if attrs[name].Online {
			online = append(online, name)
		}
	}
	sort.Strings(online)

	gainedFriend := make(map[string]bool)
	gainedEnemy := make(map[string]bool)
	for _, name := range online {
		rels := relMap.Relationships(name)
		var friends, enemies []string
		for other, kind := range rels {
			switch kind {
			case store.RelationshipFriends:
				friends = append(friends, other)
			case store.RelationshipEnemy:
				enemies = append(enemies, other)
			}
		}
		sort.Strings(friends)
		sort.Strings(enemies)

		if len(friends) > 0 && c.rand.Float64() < c.cfg.ProbLoseFriend {
			other := friends[c.rand.Intn(len(friends))]
			if err := relMap.Remove(name, other); err != nil {
				return err
			}
			friends = remove(friends, other)
			checkLog.WithFields(log.Fields{"pet": name, "other": other}).Info("Friendship ended")
		}
		if len(enemies) > 0 && c.rand.Float64() < c.cfg.ProbLoseEnemy {
			other := enemies[c.rand.Intn(len(enemies))]
			if err := relMap.Remove(name, other); err != nil {
				return err
			}
			enemies = remove(enemies, other)
			checkLog.WithFields(log.Fields{"pet": name, "other": other}).Info("Enmity ended")
		}

		makeOne := func(kind store.RelationshipKind, prob float64, gained map[string]bool) error {
			if gained[name] || c.rand.Float64() >= prob {
				return nil
			}
			var candidates []string
			for _, other := range online {
				if other == name || gained[other] {
					continue
				}
				if _, related := relMap.Relationship(name, other); related {
					continue
				}
				candidates = append(candidates, other)
			}
			if len(candidates) == 0 {
				return nil
			}
			other := c.pickWeighted(candidates, moods[name], moods)
			if err := relMap.Add(name, other, kind); err != nil {
				return err
			}
			gained[name] = true
			gained[other] = true
			checkLog.WithFields(log.Fields{"pet": name, "other": other, "kind": kind}).Info("Relationship formed")
			return nil
		}

		probFriend := c.cfg.ProbMakeFriend - c.cfg.ProbMakeFriendPerFriendDrop*float64(len(friends))
		if probFriend < 0 {
			probFriend = 0
		}
		if err := makeOne(store.RelationshipFriends, probFriend, gainedFriend); err != nil {
			return err
		}

		probEnemy := c.cfg.ProbMakeEnemy - c.cfg.ProbMakeEnemyPerEnemyDrop*float64(len(enemies))
		if probEnemy < 0 {
			probEnemy = 0
		}
		if err := makeOne(store.RelationshipEnemy, probEnemy, gainedEnemy); err != nil {
			return err
		}
	}
	return nil
}

// pickWeighted chooses a partner, boosting candidates whose mood lies
// within one step (wrap-around) of the pet's own.
func (c *Check) pickWeighted(candidates []string, mood store.Mood, moods map[string]store.Mood) string {
	weights := make([]float64, len(candidates))
	var total float64
	for i, other := range candidates {
		w := 1.0
		if mood.Distance(moods[other]) <= 1 {
			w = c.cfg.FriendMoodMultiplier
		}
		weights[i] = w
		total += w
	}
	pick := c.rand.Float64() * total
	for i, w := range weights {
		pick -= w
		if pick < 0 {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}

func remove(list []string, value string) []string {
	out := list[:0]
	for _, v := range list {
		if v != value {
			out = append(out, v)
		}
	}
	return out
}
