// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package mdns browses multicast DNS continuously and flushes what it has
// heard into the identity merger once per tick.
package mdns

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	log "github.com/sirupsen/logrus"

	"github.com/lanpets/lanpets/pkg/collector/check"
	"github.com/lanpets/lanpets/pkg/config"
	"github.com/lanpets/lanpets/pkg/netinfo"
	"github.com/lanpets/lanpets/pkg/store"
)

const (
	checkName = "mdns"

	// metaService enumerates the service types announced on the LAN.
	metaService = "_services._dns-sd._udp"
	mdnsDomain  = "local."

	browseWindow = 30 * time.Second
)

var checkLog = log.WithField("check", checkName)

// device accumulates everything heard about one mDNS host between ticks.
type device struct {
	host     string
	name     string
	ip       string
	mac      string
	services map[string]bool
}

// Check runs long-lived zeroconf browsers feeding an accumulation map;
// each tick flushes the map through the identity merger and clears it.
type Check struct {
	check.CheckBase

	store  *store.Store
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*device
	types   map[string]bool // service types already being browsed

	// lookupMAC and newResolver are swapped out in tests.
	lookupMAC   func(ip string) string
	newResolver func() (*zeroconf.Resolver, error)
}

// New builds the browser check and starts listening immediately so the
// first tick already has data.
func New(cfg *config.MDNSConfig, st *store.Store) *Check {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Check{
		CheckBase: check.NewCheckBase(checkName, time.Duration(cfg.TimeBetweenUpdates)*time.Second),
		store:     st,
		ctx:       ctx,
		cancel:    cancel,
		entries:   make(map[string]*device),
		types:     make(map[string]bool),
		lookupMAC: arpLookup,
		newResolver: func() (*zeroconf.Resolver, error) {
			return zeroconf.NewResolver(nil)
		},
	}
	go c.browseMeta()
	return c
}

// Stop shuts down every browser goroutine.
func (c *Check) Stop() {
	c.cancel()
}

// browseMeta repeatedly enumerates the announced service types and spawns
// one browser per newly seen type.
func (c *Check) browseMeta() {
	for c.ctx.Err() == nil {
		resolver, err := c.newResolver()
		if err != nil {
			checkLog.WithError(err).Warn("Creating resolver failed")
			c.sleepBeforeRetry()
			continue
		}
		entries := make(chan *zeroconf.ServiceEntry, 16)
		go func() {
			for entry := range entries {
				c.addServiceType(metaServiceType(entry.Instance))
			}
		}()
		browseCtx, cancel := context.WithTimeout(c.ctx, browseWindow)
		if err := resolver.Browse(browseCtx, metaService, mdnsDomain, entries); err != nil {
			checkLog.WithError(err).Warn("Service enumeration failed")
		}
		<-browseCtx.Done()
		cancel()
	}
}

// sleepBeforeRetry backs off after a resolver fault (e.g. interfaces not
// up yet at boot) so the browse loops keep retrying instead of dying.
func (c *Check) sleepBeforeRetry() {
	select {
	case <-time.After(browseWindow):
	case <-c.ctx.Done():
	}
}

// metaServiceType derives a browsable service type from a meta-browse
// answer. The resolver reports the instance as the full type including
// the domain ("_http._tcp.local"); Browse wants the bare type, and
// passing the reported form through would query "_http._tcp.local.local."
// which nothing answers.
func metaServiceType(instance string) string {
	t := strings.TrimSuffix(instance, ".")
	return strings.TrimSuffix(t, "."+strings.TrimSuffix(mdnsDomain, "."))
}

func (c *Check) addServiceType(serviceType string) {
	if serviceType == "" {
		return
	}
	c.mu.Lock()
	known := c.types[serviceType]
	c.types[serviceType] = true
	c.mu.Unlock()
	if known {
		return
	}
	checkLog.WithField("service", serviceType).Debug("Browsing new service type")
	go c.browseType(serviceType)
}

// browseType listens for instances of one service type until shutdown.
func (c *Check) browseType(serviceType string) {
	for c.ctx.Err() == nil {
		resolver, err := c.newResolver()
		if err != nil {
			checkLog.WithError(err).Warn("Creating resolver failed")
			c.sleepBeforeRetry()
			continue
		}
		entries := make(chan *zeroconf.ServiceEntry, 16)
		go func() {
			for entry := range entries {
				c.handleEntry(serviceType, entry)
			}
		}()
		browseCtx, cancel := context.WithTimeout(c.ctx, browseWindow)
		if err := resolver.Browse(browseCtx, serviceType, mdnsDomain, entries); err != nil {
			checkLog.WithFields(log.Fields{"service": serviceType}).WithError(err).Warn("Browse failed")
		}
		<-browseCtx.Done()
		cancel()
	}
}

func (c *Check) handleEntry(serviceType string, entry *zeroconf.ServiceEntry) {
	if entry == nil || entry.HostName == "" || len(entry.AddrIPv4) == 0 {
		return
	}
	host := entry.HostName
	ip := entry.AddrIPv4[0].String()
	service := strings.TrimPrefix(strings.SplitN(serviceType, ".", 2)[0], "_")

	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.entries[host]
	if !ok {
		d = &device{host: host, name: entry.Instance, services: make(map[string]bool)}
		c.entries[host] = d
	} else if d.name != entry.Instance {
		// Devices naming each service differently fall back to the host leaf.
		d.name = strings.SplitN(host, ".", 2)[0]
	}
	d.ip = ip
	d.services[service] = true

	if d.mac == "" {
		// Some devices announce their mac, but the ARP cache is more
		// reliable on the same LAN.
		if mac := txtMAC(entry.Text); mac != "" {
			d.mac = mac
		} else if mac := c.lookupMAC(ip); mac != "" {
			d.mac = mac
		}
	}
}

// txtMAC extracts a canonicalized mac from a `mac=` TXT record, if any.
func txtMAC(txt []string) string {
	for _, kv := range txt {
		value, found := strings.CutPrefix(kv, "mac=")
		if !found || value == "" {
			continue
		}
		mac, err := netinfo.CanonicalMAC(value)
		if err != nil {
			return ""
		}
		return mac
	}
	return ""
}

// Run flushes everything heard since the previous tick.
func (c *Check) Run() error {
	now := time.Now().Unix()

	c.mu.Lock()
	flushed := c.entries
	c.entries = make(map[string]*device)
	c.mu.Unlock()

	for _, d := range flushed {
		services := make([]string, 0, len(d.services))
		for s := range d.services {
			services = append(services, s)
		}
		sort.Strings(services)
		rec := netinfo.Info{
			Timestamp:    now,
			MAC:          d.mac,
			IP:           d.ip,
			MDNSHostname: d.host,
		}
		extra := map[netinfo.ExtraType]string{
			netinfo.ExtraMDNSName:     d.name,
			netinfo.ExtraMDNSServices: strings.Join(services, ","),
		}
		if err := c.store.AddNetworkInfo(rec, extra); err != nil {
			return err
		}
	}
	checkLog.WithField("devices", len(flushed)).Debug("mDNS devices flushed")
	return nil
}
