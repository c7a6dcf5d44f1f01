// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package config loads the monitor's YAML configuration. A nil collector
// section disables that collector; SetDefaults fills the documented
// defaults for the sections that are present.
package config

import (
	"errors"
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"

	"github.com/lanpets/lanpets/pkg/netinfo"
)

// Config is the top-level monitor configuration.
type Config struct {
	DatabasePath string `yaml:"database_path"`

	Pinger *PingerConfig `yaml:"pinger"`
	TPLink *TPLinkConfig `yaml:"tplink"`
	NMAP   *NMAPConfig   `yaml:"nmap"`
	SNMP   *SNMPConfig   `yaml:"snmp"`
	MDNS   *MDNSConfig   `yaml:"mdns"`
	PetAI  *PetAIConfig  `yaml:"pet_ai"`

	PlotTimezone      string `yaml:"plot_timezone"`
	PlotDataWindowSec int64  `yaml:"plot_data_window_sec"`

	// HardCodedPetInterfaces overrides resolution for the named pets.
	HardCodedPetInterfaces map[string]netinfo.Info `yaml:"hard_coded_pet_interfaces"`
}

// PingerConfig configures the ICMP availability check.
type PingerConfig struct {
	UpdatePeriodSec int64 `yaml:"update_period_sec"`
	HistoryLenSec   int64 `yaml:"history_len_sec"`
}

// TPLinkConfig configures the router admin-UI scraper.
type TPLinkConfig struct {
	RouterIP           string `yaml:"router_ip"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	UpdatePeriodSec    int64  `yaml:"update_period_sec"`
	CollectTrafficData *bool  `yaml:"collect_traffic_data"`
	HistoryLenSec      int64  `yaml:"history_len_sec"`
}

// NMAPConfig configures the host-discovery bridge.
type NMAPConfig struct {
	IPRanges         string `yaml:"ip_ranges"`
	UseSudo          bool   `yaml:"use_sudo"`
	NMAPFlags        string `yaml:"nmap_flags"`
	TimeBetweenScans int64  `yaml:"time_between_scans"`
}

// SNMPConfig configures the SNMPv1 poller.
type SNMPConfig struct {
	RouterIP           string `yaml:"router_ip"`
	Community          string `yaml:"community"`
	TimeBetweenScans   int64  `yaml:"time_between_scans"`
	CollectTrafficData bool   `yaml:"collect_traffic_data"`
	HistoryLenSec      int64  `yaml:"history_len_sec"`
}

// MDNSConfig configures the multicast service browser.
type MDNSConfig struct {
	TimeBetweenUpdates int64 `yaml:"time_between_updates"`
}

// MoodAlgorithm selects how the pet AI reduces metrics to a mood.
type MoodAlgorithm string

// Mood algorithms.
const (
	MoodRandom           MoodAlgorithm = "RANDOM"
	MoodActivity1        MoodAlgorithm = "ACTIVITY1"
	MoodActivityServices MoodAlgorithm = "ACTIVITY_SERVICES"
)

// PetAIConfig configures the mood/relationship engine.
type PetAIConfig struct {
	UpdatePeriodSec  int64         `yaml:"update_period_sec"`
	MoodAlgorithm    MoodAlgorithm `yaml:"mood_algorithm"`
	HistoryWindowSec int64         `yaml:"history_window_sec"`

	UptimeThresholdPct    float64 `yaml:"uptime_threshold_pct"`
	RxThresholdBPS        float64 `yaml:"rx_threshold_bps"`
	TxThresholdBPS        float64 `yaml:"tx_threshold_bps"`
	ServiceCountThreshold int     `yaml:"service_count_threshold"`

	ProbLoseFriend              float64 `yaml:"prob_lose_friend"`
	ProbMakeFriend              float64 `yaml:"prob_make_friend"`
	ProbMakeFriendPerFriendDrop float64 `yaml:"prob_make_friend_per_friend_drop"`
	ProbLoseEnemy               float64 `yaml:"prob_lose_enemy"`
	ProbMakeEnemy               float64 `yaml:"prob_make_enemy"`
	ProbMakeEnemyPerEnemyDrop   float64 `yaml:"prob_make_enemy_per_enemy_drop"`
	FriendMoodMultiplier        float64 `yaml:"friend_mood_multiplier"`
}

const week = int64(7 * 24 * 60 * 60)

// SetDefaults fills unset fields with their documented defaults. A zero
// value counts as unset here; Load tells explicit zeros apart by
// applying the defaults before decoding.
func (c *Config) SetDefaults() {
	if c.DatabasePath == "" {
		c.DatabasePath = "data/lanpets.sqlite3"
	}
	if c.PlotTimezone == "" {
		c.PlotTimezone = "UTC"
	}
	if c.PlotDataWindowSec == 0 {
		c.PlotDataWindowSec = week
	}
	if p := c.Pinger; p != nil {
		if p.UpdatePeriodSec == 0 {
			p.UpdatePeriodSec = 60
		}
		if p.HistoryLenSec == 0 {
			p.HistoryLenSec = week
		}
	}
	if t := c.TPLink; t != nil {
		if t.UpdatePeriodSec == 0 {
			t.UpdatePeriodSec = 600
		}
		if t.CollectTrafficData == nil {
			enabled := true
			t.CollectTrafficData = &enabled
		}
		if t.HistoryLenSec == 0 {
			t.HistoryLenSec = week
		}
	}
	if n := c.NMAP; n != nil {
		if n.NMAPFlags == "" {
			n.NMAPFlags = "-sn"
		}
		if n.TimeBetweenScans == 0 {
			n.TimeBetweenScans = 600
		}
	}
	if s := c.SNMP; s != nil {
		if s.Community == "" {
			s.Community = "public"
		}
		if s.TimeBetweenScans == 0 {
			s.TimeBetweenScans = 600
		}
		if s.HistoryLenSec == 0 {
			s.HistoryLenSec = week
		}
	}
	if m := c.MDNS; m != nil {
		if m.TimeBetweenUpdates == 0 {
			m.TimeBetweenUpdates = 600
		}
	}
	if p := c.PetAI; p != nil {
		if p.UpdatePeriodSec == 0 {
			p.UpdatePeriodSec = 3600
		}
		if p.MoodAlgorithm == "" {
			p.MoodAlgorithm = MoodActivityServices
		}
		if p.HistoryWindowSec == 0 {
			p.HistoryWindowSec = 3600
		}
		if p.UptimeThresholdPct == 0 {
			p.UptimeThresholdPct = 75
		}
		if p.RxThresholdBPS == 0 {
			p.RxThresholdBPS = 1000
		}
		if p.TxThresholdBPS == 0 {
			p.TxThresholdBPS = 1000
		}
		if p.ServiceCountThreshold == 0 {
			p.ServiceCountThreshold = 3
		}
		if p.ProbLoseFriend == 0 {
			p.ProbLoseFriend = 0.1
		}
		if p.ProbMakeFriend == 0 {
			p.ProbMakeFriend = 0.5
		}
		if p.ProbMakeFriendPerFriendDrop == 0 {
			p.ProbMakeFriendPerFriendDrop = 0.2
		}
		if p.ProbLoseEnemy == 0 {
			p.ProbLoseEnemy = 0.1
		}
		if p.ProbMakeEnemy == 0 {
			p.ProbMakeEnemy = 0.25
		}
		if p.ProbMakeEnemyPerEnemyDrop == 0 {
			p.ProbMakeEnemyPerEnemyDrop = 0.25
		}
		if p.FriendMoodMultiplier == 0 {
			p.FriendMoodMultiplier = 2.0
		}
	}
}

// Validate checks that every enabled section carries its required fields.
func (c *Config) Validate() error {
	if t := c.TPLink; t != nil {
		if t.RouterIP == "" || t.Username == "" || t.Password == "" {
			return errors.New("tplink requires router_ip, username and password")
		}
	}
	if n := c.NMAP; n != nil && n.IPRanges == "" {
		return errors.New("nmap requires ip_ranges")
	}
	if s := c.SNMP; s != nil && s.RouterIP == "" {
		return errors.New("snmp requires router_ip")
	}
	if p := c.PetAI; p != nil {
		switch p.MoodAlgorithm {
		case MoodRandom, MoodActivity1, MoodActivityServices:
		default:
			return fmt.Errorf("unknown mood algorithm %q", p.MoodAlgorithm)
		}
	}
	return nil
}

// Load reads, defaults and validates a configuration file.
//
// Defaults are laid down before the real decode so that an explicitly
// configured zero (e.g. `prob_lose_friend: 0`) overwrites its default
// instead of being mistaken for an unset field. The first pass only
// discovers which sections are present.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var probe Config
	if err := yaml.UnmarshalStrict(raw, &probe); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	var cfg Config
	if probe.Pinger != nil {
		cfg.Pinger = &PingerConfig{}
	}
	if probe.TPLink != nil {
		cfg.TPLink = &TPLinkConfig{}
	}
	if probe.NMAP != nil {
		cfg.NMAP = &NMAPConfig{}
	}
	if probe.SNMP != nil {
		cfg.SNMP = &SNMPConfig{}
	}
	if probe.MDNS != nil {
		cfg.MDNS = &MDNSConfig{}
	}
	if probe.PetAI != nil {
		cfg.PetAI = &PetAIConfig{}
	}
	cfg.SetDefaults()
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}
