// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package query implements the read-only inspection subcommands.
package query

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lanpets/lanpets/cmd/monitor/command"
	"github.com/lanpets/lanpets/pkg/config"
	"github.com/lanpets/lanpets/pkg/query"
	"github.com/lanpets/lanpets/pkg/store"
)

// Command returns the query subcommand tree.
func Command(globalParams *command.GlobalParams) *cobra.Command {
	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Inspect the monitor's data",
	}
	queryCmd.AddCommand(&cobra.Command{
		Use:   "pets",
		Short: "Show every pet with its current state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMonitor(globalParams, printPets)
		},
	})
	queryCmd.AddCommand(&cobra.Command{
		Use:   "interfaces",
		Short: "Show every observed network interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMonitor(globalParams, printInterfaces)
		},
	})
	queryCmd.AddCommand(&cobra.Command{
		Use:   "relationships",
		Short: "Show the relationships between pets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMonitor(globalParams, printRelationships)
		},
	})
	return queryCmd
}

func withMonitor(globalParams *command.GlobalParams, fn func(*query.Monitor) error) error {
	cfg, err := config.Load(globalParams.ConfFilePath)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DatabasePath, store.WithHardCodedInterfaces(cfg.HardCodedPetInterfaces))
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(query.New(st, time.Duration(cfg.PlotDataWindowSec)*time.Second))
}

func printPets(m *query.Monitor) error {
	summaries, err := m.Summaries()
	if err != nil {
		return err
	}
	names := make([]string, 0, len(summaries))
	for name := range summaries {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tMOOD\tADDRESS\tONLINE\tUPTIME\tLAST SEEN\tRX BPS\tTX BPS")
	for _, name := range names {
		s := summaries[name]
		lastSeen := "never"
		if !s.LastSeen.IsZero() {
			lastSeen = s.LastSeen.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%.1f%%\t%s\t%.1f\t%.1f\n",
			name, s.Pet.DeviceType, s.Pet.Mood, s.Interface.Host(), s.Online,
			s.AvailabilityPct, lastSeen, s.Traffic.RxBPS, s.Traffic.TxBPS)
	}
	return w.Flush()
}

func printInterfaces(m *query.Monitor) error {
	infos, err := m.Interfaces()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "MAC\tIP\tDNS\tMDNS\tLAST UPDATED")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			info.MAC, info.IP, info.DNSHostname, info.MDNSHostname,
			time.Unix(info.Timestamp, 0).Format(time.RFC3339))
	}
	return w.Flush()
}

func printRelationships(m *query.Monitor) error {
	rels, err := m.Relationships()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "PET\tPET\tRELATIONSHIP")
	for _, r := range rels {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name1, r.Name2, r.Kind)
	}
	return w.Flush()
}
