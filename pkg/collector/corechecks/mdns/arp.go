// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package mdns

import (
	"bufio"
	"os"
	"strings"

	"github.com/lanpets/lanpets/pkg/netinfo"
)

const arpCachePath = "/proc/net/arp"

// arpLookup resolves an IPv4 address to a canonical mac via the kernel's
// ARP cache. Empty when the address is unknown or the cache is
// unavailable (non-Linux hosts).
func arpLookup(ip string) string {
	f, err := os.Open(arpCachePath)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Scan() // header
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[0] != ip {
			continue
		}
		mac, err := netinfo.CanonicalMAC(fields[3])
		if err != nil {
			return ""
		}
		return mac
	}
	return ""
}
