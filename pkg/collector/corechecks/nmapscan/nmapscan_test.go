// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package nmapscan

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanpets/lanpets/pkg/config"
	"github.com/lanpets/lanpets/pkg/netinfo"
	"github.com/lanpets/lanpets/pkg/store"
)

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<nmaprun scanner="nmap" args="nmap -oX - -sn 192.168.1.0/24">
  <host>
    <status state="up" reason="arp-response"/>
    <address addr="192.168.1.110" addrtype="ipv4"/>
    <address addr="7c:83:34:be:62:5c" addrtype="mac" vendor="Acme"/>
    <hostnames>
      <hostname name="bee.internal" type="PTR"/>
    </hostnames>
    <ports>
      <port protocol="tcp" portid="22"><state state="open"/><service name="ssh"/></port>
      <port protocol="tcp" portid="80"><state state="closed"/><service name="http"/></port>
      <port protocol="udp" portid="53"><state state="open"/><service name="domain"/></port>
    </ports>
  </host>
  <host>
    <status state="down" reason="no-response"/>
    <address addr="192.168.1.111" addrtype="ipv4"/>
  </host>
  <host>
    <status state="up" reason="syn-ack"/>
    <address addr="192.168.1.120" addrtype="ipv4"/>
    <hostnames><hostname name="" type=""/></hostnames>
  </host>
</nmaprun>`

func TestParseScan(t *testing.T) {
	hosts, err := parseScan([]byte(sampleXML))
	require.NoError(t, err)
	require.Len(t, hosts, 2, "down hosts are dropped")

	assert.Equal(t, scannedHost{
		ip:       "192.168.1.110",
		mac:      "7c:83:34:be:62:5c",
		hostname: "bee.internal",
		services: []string{"22(ssh)"},
	}, hosts[0])
	assert.Equal(t, scannedHost{ip: "192.168.1.120"}, hosts[1])

	_, err = parseScan([]byte("not xml"))
	assert.Error(t, err)
}

func testCheck(t *testing.T) (*Check, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := &config.Config{NMAP: &config.NMAPConfig{IPRanges: "192.168.1.0/24"}}
	cfg.SetDefaults()
	return New(cfg.NMAP, s), s
}

func TestRunAndPollIngestScan(t *testing.T) {
	c, s := testCheck(t)
	ran := make(chan struct{})
	c.runScan = func(name string, args ...string) ([]byte, error) {
		defer close(ran)
		assert.Equal(t, "nmap", name)
		assert.Equal(t, []string{"-oX", "-", "-sn", "192.168.1.0/24"}, args)
		return []byte(sampleXML), nil
	}
	require.NoError(t, c.Run())
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("scan never ran")
	}
	// The scan goroutine publishes pending output under the mutex; poll
	// until it lands.
	require.Eventually(t, func() bool {
		c.Poll()
		infos, err := s.ListNetworkInfo()
		return err == nil && len(infos) == 2
	}, time.Second, 10*time.Millisecond)

	infos, err := s.ListNetworkInfo()
	require.NoError(t, err)
	byIP := map[string]netinfo.Info{}
	for _, info := range infos {
		byIP[info.IP] = info
	}
	assert.Equal(t, "7C-83-34-BE-62-5C", byIP["192.168.1.110"].MAC)
	assert.Equal(t, "bee.internal", byIP["192.168.1.110"].DNSHostname)
	assert.Empty(t, byIP["192.168.1.120"].MAC)
}

func TestRunSkipsWhileScanInFlight(t *testing.T) {
	c, _ := testCheck(t)
	block := make(chan struct{})
	started := make(chan struct{})
	c.runScan = func(string, ...string) ([]byte, error) {
		close(started)
		<-block
		return nil, errors.New("aborted")
	}
	require.NoError(t, c.Run())
	<-started
	require.NoError(t, c.Run()) // skipped, not queued
	close(block)
}

func TestPollDiscardsBadOutput(t *testing.T) {
	c, s := testCheck(t)
	c.mu.Lock()
	c.pending = []byte("garbage")
	c.mu.Unlock()
	c.Poll()

	infos, err := s.ListNetworkInfo()
	require.NoError(t, err)
	assert.Empty(t, infos)

	c.mu.Lock()
	fatal := c.fatal
	c.mu.Unlock()
	assert.NoError(t, fatal, "a parse failure is not fatal")
}
