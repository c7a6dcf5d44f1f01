// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package nmapscan

import (
	"encoding/xml"
	"fmt"
)

type nmapRun struct {
	XMLName xml.Name   `xml:"nmaprun"`
	Hosts   []nmapHost `xml:"host"`
}

type nmapHost struct {
	Status    nmapStatus     `xml:"status"`
	Addresses []nmapAddress  `xml:"address"`
	Hostnames []nmapHostname `xml:"hostnames>hostname"`
	Ports     []nmapPort     `xml:"ports>port"`
}

type nmapStatus struct {
	State string `xml:"state,attr"`
}

type nmapAddress struct {
	Addr     string `xml:"addr,attr"`
	AddrType string `xml:"addrtype,attr"`
}

type nmapHostname struct {
	Name string `xml:"name,attr"`
}

type nmapPort struct {
	Protocol string `xml:"protocol,attr"`
	PortID   int    `xml:"portid,attr"`
	State    struct {
		State string `xml:"state,attr"`
	} `xml:"state"`
	Service struct {
		Name string `xml:"name,attr"`
	} `xml:"service"`
}

// scannedHost is one live host distilled from a scan.
type scannedHost struct {
	ip       string
	mac      string
	hostname string
	services []string // "port(service)" per open tcp port
}

// parseScan extracts the live hosts from nmap's XML output.
func parseScan(out []byte) ([]scannedHost, error) {
	var run nmapRun
	if err := xml.Unmarshal(out, &run); err != nil {
		return nil, fmt.Errorf("parsing scan xml: %w", err)
	}
	var hosts []scannedHost
	for _, h := range run.Hosts {
		if h.Status.State != "up" {
			continue
		}
		var host scannedHost
		for _, addr := range h.Addresses {
			switch addr.AddrType {
			case "ipv4":
				host.ip = addr.Addr
			case "mac":
				host.mac = addr.Addr
			}
		}
		for _, name := range h.Hostnames {
			if name.Name != "" {
				host.hostname = name.Name
				break
			}
		}
		for _, port := range h.Ports {
			if port.Protocol == "tcp" && port.State.State == "open" {
				host.services = append(host.services, fmt.Sprintf("%d(%s)", port.PortID, port.Service.Name))
			}
		}
		hosts = append(hosts, host)
	}
	return hosts, nil
}
