// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package netinfo holds the observed network identity records shared by all
// collectors. A record carries up to three partial keys (ip, mac,
// dns_hostname); each non-empty key uniquely identifies a device on the LAN,
// and records coming from different collectors are unified by field-wise
// merge (see Merge).
package netinfo

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoIdentifier is returned when a record carries none of the three
// partial keys and therefore cannot be stored or merged.
var ErrNoIdentifier = errors.New("network info record has no identifying field")

// ExtraType enumerates the typed string annotations attached to a record.
type ExtraType string

// Known extra info types.
const (
	ExtraDHCPName          ExtraType = "dhcp_name"
	ExtraRouterDescription ExtraType = "router_description"
	ExtraMDNSName          ExtraType = "mdns_name"
	ExtraMDNSServices      ExtraType = "mdns_services"
	ExtraNMAPServices      ExtraType = "nmap_services"
)

// Info is a single observed network identity. Empty string means the field
// was not observed. Timestamp is unix seconds of the latest observation that
// contributed to the record.
type Info struct {
	Timestamp    int64  `yaml:"timestamp" db:"timestamp"`
	MAC          string `yaml:"mac" db:"mac"`
	IP           string `yaml:"ip" db:"ip"`
	DNSHostname  string `yaml:"dns_hostname" db:"dns_hostname"`
	MDNSHostname string `yaml:"mdns_hostname" db:"mdns_hostname"`
}

// partialKeys lists the identifying fields in increasing order of
// specificity: an ip lease moves between devices, a mac follows the
// hardware, a dns name follows the administrator's intent.
var partialKeys = []string{"ip", "mac", "dns_hostname"}

// KeySpecificity returns the priority of a partial key name, higher is more
// specific. Unknown names return -1.
func KeySpecificity(key string) int {
	for i, k := range partialKeys {
		if k == key {
			return i
		}
	}
	return -1
}

// PartialKeys returns the record's non-empty identifying fields keyed by
// column name.
func (n Info) PartialKeys() map[string]string {
	keys := make(map[string]string, 3)
	if n.IP != "" {
		keys["ip"] = n.IP
	}
	if n.MAC != "" {
		keys["mac"] = n.MAC
	}
	if n.DNSHostname != "" {
		keys["dns_hostname"] = n.DNSHostname
	}
	return keys
}

// HasIdentifier reports whether at least one partial key is set.
func (n Info) HasIdentifier() bool {
	return n.IP != "" || n.MAC != "" || n.DNSHostname != ""
}

// Host returns the best address for reaching the device: ip when known,
// else the DNS hostname, else the mDNS hostname. Empty when unreachable.
func (n Info) Host() string {
	switch {
	case n.IP != "":
		return n.IP
	case n.DNSHostname != "":
		return n.DNSHostname
	default:
		return n.MDNSHostname
	}
}

// IsDuplicate reports whether the two records share any non-empty partial
// key and therefore describe the same device.
func (n Info) IsDuplicate(other Info) bool {
	match := func(a, b string) bool { return a != "" && a == b }
	return match(n.IP, other.IP) || match(n.MAC, other.MAC) || match(n.DNSHostname, other.DNSHostname)
}

// Merge unifies two records describing the same device: every field takes
// the newer record's value when set, falling back to the older record's.
// The result's timestamp is the later of the two.
func Merge(a, b Info) Info {
	newer, older := a, b
	if b.Timestamp > a.Timestamp {
		newer, older = b, a
	}
	pick := func(n, o string) string {
		if n != "" {
			return n
		}
		return o
	}
	return Info{
		Timestamp:    newer.Timestamp,
		MAC:          pick(newer.MAC, older.MAC),
		IP:           pick(newer.IP, older.IP),
		DNSHostname:  pick(newer.DNSHostname, older.DNSHostname),
		MDNSHostname: pick(newer.MDNSHostname, older.MDNSHostname),
	}
}

// CanonicalMAC normalizes a mac address to XX-XX-XX-XX-XX-XX, accepting
// colon, dash or dot separated input in either case.
func CanonicalMAC(mac string) (string, error) {
	cleaned := strings.NewReplacer(":", "", "-", "", ".", "").Replace(strings.TrimSpace(mac))
	if len(cleaned) != 12 {
		return "", fmt.Errorf("invalid mac address %q", mac)
	}
	parts := make([]string, 6)
	for i := 0; i < 6; i++ {
		pair := cleaned[i*2 : i*2+2]
		for _, c := range pair {
			if !isHexDigit(byte(c)) {
				return "", fmt.Errorf("invalid mac address %q", mac)
			}
		}
		parts[i] = strings.ToUpper(pair)
	}
	return strings.Join(parts, "-"), nil
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
