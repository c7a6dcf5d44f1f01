// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package snmpcheck polls SNMPv1 agents: the router's ARP table for
// ip/mac discovery and each pet's host resources for cpu/memory samples.
package snmpcheck

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	log "github.com/sirupsen/logrus"

	"github.com/lanpets/lanpets/pkg/collector/check"
	"github.com/lanpets/lanpets/pkg/config"
	"github.com/lanpets/lanpets/pkg/netinfo"
	"github.com/lanpets/lanpets/pkg/store"
)

const checkName = "snmp"

var checkLog = log.WithField("check", checkName)

// OIDs polled by the check.
const (
	// RFC1213-MIB::ipNetToMediaPhysAddress, the router's ARP table.
	oidARPTable = "1.3.6.1.2.1.4.22.1.2"
	// HOST-RESOURCES-MIB::hrProcessorLoad, one row per core.
	oidProcessorLoad = "1.3.6.1.2.1.25.3.3.1.2"
	// UCD-SNMP-MIB::ssCpuIdle, fallback when hrProcessorLoad is absent.
	oidCPUIdle = "1.3.6.1.4.1.2021.11.11.0"
	// HOST-RESOURCES-MIB::hrStorageTable columns.
	oidStorageType  = "1.3.6.1.2.1.25.2.3.1.2"
	oidStorageUnits = "1.3.6.1.2.1.25.2.3.1.4"
	oidStorageSize  = "1.3.6.1.2.1.25.2.3.1.5"
	oidStorageUsed  = "1.3.6.1.2.1.25.2.3.1.6"
	// HOST-RESOURCES-TYPES::hrStorageRam.
	oidStorageTypeRAM = "1.3.6.1.2.1.25.2.1.2"
	// RFC1213-MIB::ifInOctets / ifOutOctets.
	oidIfInOctets  = "1.3.6.1.2.1.2.2.1.10"
	oidIfOutOctets = "1.3.6.1.2.1.2.2.1.16"
)

// conn is the slice of gosnmp used by the check, separated so tests can
// substitute a fake agent.
type conn interface {
	Get(oids []string) (*gosnmp.SnmpPacket, error)
	WalkAll(rootOid string) ([]gosnmp.SnmpPDU, error)
	Close() error
}

type snmpConn struct {
	*gosnmp.GoSNMP
}

func (c snmpConn) Close() error {
	return c.Conn.Close()
}

// Check polls the router's ARP table into the identity merger and each
// pet's agent into cpu samples.
type Check struct {
	check.CheckBase

	store          *store.Store
	routerIP       string
	community      string
	collectTraffic bool
	historyLen     time.Duration

	// connect is swapped out in tests.
	connect func(host string) (conn, error)
}

// New builds the SNMP check from its config section.
func New(cfg *config.SNMPConfig, st *store.Store) *Check {
	c := &Check{
		CheckBase:      check.NewCheckBase(checkName, time.Duration(cfg.TimeBetweenScans)*time.Second),
		store:          st,
		routerIP:       cfg.RouterIP,
		community:      cfg.Community,
		collectTraffic: cfg.CollectTrafficData,
		historyLen:     time.Duration(cfg.HistoryLenSec) * time.Second,
	}
	c.connect = c.dial
	return c
}

func (c *Check) dial(host string) (conn, error) {
	g := &gosnmp.GoSNMP{
		Target:    host,
		Port:      161,
		Transport: "udp",
		Community: c.community,
		Version:   gosnmp.Version1,
		Timeout:   time.Second,
		Retries:   1,
	}
	if err := g.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", host, err)
	}
	return snmpConn{g}, nil
}

// Run executes one polling tick.
func (c *Check) Run() error {
	now := time.Now().Unix()
	cutoff := now - int64(c.historyLen/time.Second)
	if err := c.store.DeleteEntriesOlderThan("device_cpu_stats", cutoff); err != nil {
		return err
	}

	if err := c.scanRouter(now); err != nil {
		checkLog.WithError(err).Error("Router ARP walk failed")
		return nil
	}
	return c.pollPets(now)
}

// scanRouter walks the router's ARP table and upserts one (ip, mac) record
// per attached device. Macs claiming more than one ip are dropped: the
// router keeps stale leases around and a duplicated mac would force bogus
// merges downstream.
func (c *Check) scanRouter(now int64) error {
	agent, err := c.connect(c.routerIP)
	if err != nil {
		return err
	}
	defer agent.Close()

	pdus, err := agent.WalkAll(oidARPTable)
	if err != nil {
		return fmt.Errorf("walking arp table: %w", err)
	}
	type pair struct{ ip, mac string }
	var (
		pairs     []pair
		macCounts = make(map[string]int)
	)
	for _, pdu := range pdus {
		ip := ipFromARPOid(pdu.Name)
		mac := macFromOctets(pdu.Value)
		if ip == "" || mac == "" {
			continue
		}
		pairs = append(pairs, pair{ip: ip, mac: mac})
		macCounts[mac]++
	}

	kept := 0
	for _, p := range pairs {
		if macCounts[p.mac] > 1 {
			continue
		}
		err := c.store.AddNetworkInfo(netinfo.Info{Timestamp: now, IP: p.ip, MAC: p.mac}, nil)
		if err != nil {
			return err
		}
		kept++
	}
	checkLog.WithFields(log.Fields{"unique": kept, "total": len(pairs)}).Debug("ARP table ingested")
	return nil
}

// ipFromARPOid extracts the ip suffix of an ipNetToMediaPhysAddress row:
// <table>.<ifIndex>.<a>.<b>.<c>.<d>.
func ipFromARPOid(oid string) string {
	parts := strings.Split(strings.TrimPrefix(oid, "."), ".")
	if len(parts) < 4 {
		return ""
	}
	return strings.Join(parts[len(parts)-4:], ".")
}

// macFromOctets formats a physical-address varbind as upper-hex dash-joined.
func macFromOctets(value any) string {
	octets, ok := value.([]byte)
	if !ok || len(octets) != 6 {
		return ""
	}
	parts := make([]string, len(octets))
	for i, b := range octets {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, "-")
}

// pollPets queries each reachable pet's own agent for cpu/memory (and
// optionally interface counters). Per-pet failures are expected — most
// devices run no agent — and only logged at debug.
func (c *Check) pollPets(now int64) error {
	pets, err := c.store.ListPets()
	if err != nil {
		return err
	}
	resolved, err := c.store.ResolvePets(pets)
	if err != nil {
		return err
	}
	polled := 0
	for name, r := range resolved {
		host := r.Interface.Host()
		if host == "" {
			continue
		}
		if err := c.pollOne(name, host, now); err != nil {
			checkLog.WithFields(log.Fields{"pet": name, "host": host}).WithError(err).Debug("Pet agent poll failed")
			continue
		}
		polled++
	}
	checkLog.WithField("pets", polled).Debug("Pet agents polled")
	return nil
}

func (c *Check) pollOne(name, host string, now int64) error {
	agent, err := c.connect(host)
	if err != nil {
		return err
	}
	defer agent.Close()

	cpu, err := cpuUsedPercent(agent)
	if err != nil {
		return err
	}
	mem, err := ramUsedPercent(agent)
	if err != nil {
		return err
	}
	if err := c.store.AppendCPU(name, cpu, mem, now); err != nil {
		return fmt.Errorf("storing cpu sample: %w", err)
	}

	if c.collectTraffic {
		rx, tx, err := maxIfOctets(agent)
		if err != nil {
			return err
		}
		if err := c.store.AppendTraffic(name, rx, tx, now); err != nil {
			return fmt.Errorf("storing traffic sample: %w", err)
		}
	}
	return nil
}

// cpuUsedPercent reads the mean per-core load, falling back to 100-idle
// for agents exposing only the UCD mib.
func cpuUsedPercent(agent conn) (float64, error) {
	pdus, err := agent.WalkAll(oidProcessorLoad)
	if err == nil && len(pdus) > 0 {
		var sum float64
		for _, pdu := range pdus {
			sum += float64(gosnmp.ToBigInt(pdu.Value).Int64())
		}
		return sum / float64(len(pdus)), nil
	}

	pkt, err := agent.Get([]string{oidCPUIdle})
	if err != nil {
		return 0, fmt.Errorf("reading cpu usage: %w", err)
	}
	if len(pkt.Variables) == 0 || pkt.Variables[0].Type == gosnmp.NoSuchObject {
		return 0, fmt.Errorf("agent exposes no cpu usage")
	}
	idle := float64(gosnmp.ToBigInt(pkt.Variables[0].Value).Int64())
	return 100 - idle, nil
}

// ramUsedPercent finds the hrStorage row typed as physical RAM and returns
// used/total as a percentage.
func ramUsedPercent(agent conn) (float64, error) {
	pdus, err := agent.WalkAll(oidStorageType)
	if err != nil {
		return 0, fmt.Errorf("walking storage table: %w", err)
	}
	for _, pdu := range pdus {
		typeOid, ok := pdu.Value.(string)
		if !ok || strings.TrimPrefix(typeOid, ".") != oidStorageTypeRAM {
			continue
		}
		parts := strings.Split(pdu.Name, ".")
		idx := parts[len(parts)-1]
		oids := []string{
			oidStorageUnits + "." + idx,
			oidStorageSize + "." + idx,
			oidStorageUsed + "." + idx,
		}
		pkt, err := agent.Get(oids)
		if err != nil {
			return 0, fmt.Errorf("reading ram row %s: %w", idx, err)
		}
		if len(pkt.Variables) != 3 {
			return 0, fmt.Errorf("short ram response (%d varbinds)", len(pkt.Variables))
		}
		unit := gosnmp.ToBigInt(pkt.Variables[0].Value).Int64()
		total := gosnmp.ToBigInt(pkt.Variables[1].Value).Int64() * unit
		used := gosnmp.ToBigInt(pkt.Variables[2].Value).Int64() * unit
		if total <= 0 {
			return 0, fmt.Errorf("ram row %s reports no capacity", idx)
		}
		return float64(used) / float64(total) * 100, nil
	}
	return 0, fmt.Errorf("agent exposes no ram storage row")
}

// maxIfOctets reduces the interface table to the busiest counter per
// direction, which tracks the device's primary interface.
func maxIfOctets(agent conn) (rx, tx int64, err error) {
	maxOf := func(root string) (int64, error) {
		pdus, err := agent.WalkAll(root)
		if err != nil {
			return 0, fmt.Errorf("walking interface counters: %w", err)
		}
		if len(pdus) == 0 {
			return 0, fmt.Errorf("agent exposes no interface counters")
		}
		var best int64
		for _, pdu := range pdus {
			if v := gosnmp.ToBigInt(pdu.Value).Int64(); v > best {
				best = v
			}
		}
		return best, nil
	}
	if rx, err = maxOf(oidIfInOctets); err != nil {
		return 0, 0, err
	}
	if tx, err = maxOf(oidIfOutOctets); err != nil {
		return 0, 0, err
	}
	return rx, tx, nil
}
