// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package tplink scrapes a TP-Link router's admin UI for DHCP leases,
// static reservations and per-address byte counters.
package tplink

import (
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lanpets/lanpets/pkg/collector/check"
	"github.com/lanpets/lanpets/pkg/config"
	"github.com/lanpets/lanpets/pkg/netinfo"
	"github.com/lanpets/lanpets/pkg/store"
)

const checkName = "tplink"

var checkLog = log.WithField("check", checkName)

// Check polls the router each tick. Router-side failures (HTTP, auth,
// malformed JSON) abort the tick with an error log and are retried on the
// next one; only store faults propagate out of Run.
type Check struct {
	check.CheckBase

	store          *store.Store
	client         *client
	collectTraffic bool
	historyLen     time.Duration
}

// New builds the router scraper from its config section.
func New(cfg *config.TPLinkConfig, st *store.Store) *Check {
	return &Check{
		CheckBase:      check.NewCheckBase(checkName, time.Duration(cfg.UpdatePeriodSec)*time.Second),
		store:          st,
		client:         newClient(cfg.RouterIP, cfg.Username, cfg.Password),
		collectTraffic: cfg.CollectTrafficData == nil || *cfg.CollectTrafficData,
		historyLen:     time.Duration(cfg.HistoryLenSec) * time.Second,
	}
}

// observation is one device assembled from the router's tables, keyed by
// canonical mac.
type observation struct {
	ip          string
	dhcpName    string
	description string
}

// Run executes one scrape tick.
func (c *Check) Run() error {
	now := time.Now().Unix()
	if c.collectTraffic {
		cutoff := now - int64(c.historyLen/time.Second)
		if err := c.store.DeleteEntriesOlderThan("traffic_stats", cutoff); err != nil {
			return err
		}
	}

	clients, err := c.client.dhcpClients()
	if err != nil {
		checkLog.WithError(err).Error("Fetching dhcp clients failed")
		return nil
	}
	reservations, err := c.client.dhcpReservations()
	if err != nil {
		checkLog.WithError(err).Error("Fetching dhcp reservations failed")
		return nil
	}
	var traffic []ipStat
	if c.collectTraffic {
		if traffic, err = c.client.trafficStats(); err != nil {
			checkLog.WithError(err).Error("Fetching traffic stats failed")
			return nil
		}
	}

	devices := make(map[string]*observation)
	device := func(rawMAC string) *observation {
		mac, err := netinfo.CanonicalMAC(rawMAC)
		if err != nil {
			checkLog.WithField("mac", rawMAC).Debug("Skipping entry with bad mac")
			return nil
		}
		if _, ok := devices[mac]; !ok {
			devices[mac] = &observation{}
		}
		return devices[mac]
	}
	for _, r := range reservations {
		obs := device(r.MAC)
		if obs == nil {
			continue
		}
		obs.ip = r.IP
		if note, err := url.QueryUnescape(r.Note); err == nil {
			obs.description = note
		} else {
			obs.description = r.Note
		}
	}
	for _, cl := range clients {
		obs := device(cl.MACAddr)
		if obs == nil {
			continue
		}
		obs.ip = cl.IPAddr
		// The router reports unnamed leases as "--".
		if cl.Name != "--" {
			obs.dhcpName = cl.Name
		}
	}

	for rawMAC, obs := range devices {
		rec := netinfo.Info{Timestamp: now, MAC: rawMAC, IP: obs.ip}
		extra := make(map[netinfo.ExtraType]string)
		if obs.dhcpName != "" {
			extra[netinfo.ExtraDHCPName] = obs.dhcpName
		}
		if obs.description != "" {
			extra[netinfo.ExtraRouterDescription] = obs.description
		}
		if err := c.store.AddNetworkInfo(rec, extra); err != nil {
			return err
		}
	}
	checkLog.WithField("devices", len(devices)).Debug("Router tables ingested")

	if c.collectTraffic {
		if err := c.appendTraffic(traffic, now); err != nil {
			return err
		}
	}
	return nil
}

// appendTraffic matches the router's per-address counters to resolved pets
// by IP and records one traffic sample per match.
func (c *Check) appendTraffic(traffic []ipStat, now int64) error {
	pets, err := c.store.ListPets()
	if err != nil {
		return err
	}
	resolved, err := c.store.ResolvePets(pets)
	if err != nil {
		return err
	}
	byIP := make(map[string]ipStat, len(traffic))
	for _, t := range traffic {
		byIP[t.Addr] = t
	}
	samples := 0
	for name, r := range resolved {
		stat, ok := byIP[r.Interface.IP]
		if !ok {
			continue
		}
		if err := c.store.AppendTraffic(name, stat.RxBytes, stat.TxBytes, now); err != nil {
			return err
		}
		samples++
	}
	checkLog.WithField("samples", samples).Debug("Traffic samples recorded")
	return nil
}
