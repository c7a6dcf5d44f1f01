// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package ping implements the availability check: one ICMP echo per pet
// per tick, recorded as a reachability sample.
package ping

import (
	"sync"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	log "github.com/sirupsen/logrus"

	"github.com/lanpets/lanpets/pkg/collector/check"
	"github.com/lanpets/lanpets/pkg/config"
	"github.com/lanpets/lanpets/pkg/store"
)

const (
	checkName = "ping"

	// maxConcurrent bounds the ping fan-out so a large pet roster does not
	// open an unbounded number of sockets at once.
	maxConcurrent = 8

	pingTimeout = time.Second
)

// Check pings every resolvable pet each tick and appends an availability
// sample per pet. An unreachable or unresolvable-address failure is a
// negative sample, not an error; only store faults propagate.
type Check struct {
	check.CheckBase

	store      *store.Store
	historyLen time.Duration

	// pingHost is swapped out in tests.
	pingHost func(addr string) bool
}

// New builds the availability check from its config section.
func New(cfg *config.PingerConfig, st *store.Store) *Check {
	c := &Check{
		CheckBase:  check.NewCheckBase(checkName, time.Duration(cfg.UpdatePeriodSec)*time.Second),
		store:      st,
		historyLen: time.Duration(cfg.HistoryLenSec) * time.Second,
	}
	c.pingHost = pingOnce
	return c
}

// pingOnce sends a single unprivileged echo and reports whether the reply
// came back within the timeout.
func pingOnce(addr string) bool {
	pinger, err := probing.NewPinger(addr)
	if err != nil {
		log.WithFields(log.Fields{"check": checkName, "addr": addr}).WithError(err).Debug("Cannot ping address")
		return false
	}
	pinger.Count = 1
	pinger.Timeout = pingTimeout
	pinger.SetPrivileged(false)
	if err := pinger.Run(); err != nil {
		log.WithFields(log.Fields{"check": checkName, "addr": addr}).WithError(err).Debug("Ping failed")
		return false
	}
	stats := pinger.Statistics()
	return stats.PacketsSent > 0 && stats.PacketsRecv == stats.PacketsSent
}

// Run executes one availability tick.
func (c *Check) Run() error {
	now := time.Now().Unix()
	cutoff := now - int64(c.historyLen/time.Second)
	if err := c.store.DeleteEntriesOlderThan("device_availability", cutoff); err != nil {
		return err
	}

	pets, err := c.store.ListPets()
	if err != nil {
		return err
	}
	resolved, err := c.store.ResolvePets(pets)
	if err != nil {
		return err
	}

	var (
		wg      sync.WaitGroup
		sem     = make(chan struct{}, maxConcurrent)
		mu      sync.Mutex
		results = make(map[string]bool, len(resolved))
	)
	for name, r := range resolved {
		addr := r.Interface.Host()
		if addr == "" {
			log.WithFields(log.Fields{"check": checkName, "pet": name}).Debug("Pet has no address, skipping")
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(name, addr string) {
			defer wg.Done()
			defer func() { <-sem }()
			up := c.pingHost(addr)
			mu.Lock()
			results[name] = up
			mu.Unlock()
		}(name, addr)
	}
	wg.Wait()

	for name, up := range results {
		if err := c.store.AppendAvailability(name, up, now); err != nil {
			return err
		}
		log.WithFields(log.Fields{"check": checkName, "pet": name, "up": up}).Debug("Availability sample")
	}
	return nil
}
