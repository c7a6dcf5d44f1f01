// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package nmapscan drives an external nmap process for host discovery. A
// scan can outlive the check interval, so Run only launches it; the XML
// result is ingested by Poll once the process has finished.
package nmapscan

import (
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lanpets/lanpets/pkg/collector/check"
	"github.com/lanpets/lanpets/pkg/config"
	"github.com/lanpets/lanpets/pkg/netinfo"
	"github.com/lanpets/lanpets/pkg/store"
)

const checkName = "nmap"

var checkLog = log.WithField("check", checkName)

// Check launches nmap in the background and feeds completed scans through
// the identity merger.
type Check struct {
	check.CheckBase

	store    *store.Store
	ipRanges string
	useSudo  bool
	flags    string

	mu       sync.Mutex
	inFlight bool
	pending  []byte // completed scan output awaiting ingest
	fatal    error  // store fault from ingest, surfaced by the next Run

	// runScan is swapped out in tests.
	runScan func(name string, args ...string) ([]byte, error)
}

// New builds the discovery check from its config section.
func New(cfg *config.NMAPConfig, st *store.Store) *Check {
	return &Check{
		CheckBase: check.NewCheckBase(checkName, time.Duration(cfg.TimeBetweenScans)*time.Second),
		store:     st,
		ipRanges:  cfg.IPRanges,
		useSudo:   cfg.UseSudo,
		flags:     cfg.NMAPFlags,
		runScan: func(name string, args ...string) ([]byte, error) {
			return exec.Command(name, args...).Output()
		},
	}
}

// Run starts a background scan unless one is already in flight.
func (c *Check) Run() error {
	c.mu.Lock()
	if c.fatal != nil {
		err := c.fatal
		c.fatal = nil
		c.mu.Unlock()
		return err
	}
	if c.inFlight {
		c.mu.Unlock()
		checkLog.Warn("Previous scan still running, skipping this tick")
		return nil
	}
	c.inFlight = true
	c.mu.Unlock()

	args := []string{"nmap", "-oX", "-"}
	args = append(args, strings.Fields(c.flags)...)
	args = append(args, strings.Fields(c.ipRanges)...)
	if c.useSudo {
		args = append([]string{"sudo"}, args...)
	}

	go func() {
		checkLog.WithField("cmd", strings.Join(args, " ")).Debug("Starting scan")
		out, err := c.runScan(args[0], args[1:]...)
		c.mu.Lock()
		defer c.mu.Unlock()
		c.inFlight = false
		if err != nil {
			checkLog.WithError(err).Warn("Scan failed")
			return
		}
		c.pending = out
	}()
	return nil
}

// Poll ingests a completed scan, if any. Store faults are stashed for the
// next Run since Poll has no error path.
func (c *Check) Poll() {
	c.mu.Lock()
	out := c.pending
	c.pending = nil
	c.mu.Unlock()
	if out == nil {
		return
	}
	if err := c.ingest(out); err != nil {
		c.mu.Lock()
		c.fatal = err
		c.mu.Unlock()
	}
}

func (c *Check) ingest(out []byte) error {
	hosts, err := parseScan(out)
	if err != nil {
		checkLog.WithError(err).Warn("Discarding unparseable scan output")
		return nil
	}
	now := time.Now().Unix()
	ingested := 0
	for _, h := range hosts {
		rec := netinfo.Info{Timestamp: now, IP: h.ip, DNSHostname: h.hostname}
		if h.mac != "" {
			mac, err := netinfo.CanonicalMAC(h.mac)
			if err != nil {
				checkLog.WithField("mac", h.mac).Debug("Skipping bad mac")
			} else {
				rec.MAC = mac
			}
		}
		if !rec.HasIdentifier() {
			continue
		}
		var extra map[netinfo.ExtraType]string
		if len(h.services) > 0 {
			extra = map[netinfo.ExtraType]string{
				netinfo.ExtraNMAPServices: strings.Join(h.services, ","),
			}
		}
		if err := c.store.AddNetworkInfo(rec, extra); err != nil {
			return fmt.Errorf("ingesting scan result for %s: %w", h.ip, err)
		}
		ingested++
	}
	checkLog.WithField("hosts", ingested).Info("Scan ingested")
	return nil
}
