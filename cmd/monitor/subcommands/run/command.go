// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package run implements the subcommand that starts the monitor service.
package run

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lanpets/lanpets/cmd/monitor/command"
	"github.com/lanpets/lanpets/pkg/collector"
	"github.com/lanpets/lanpets/pkg/collector/check"
	"github.com/lanpets/lanpets/pkg/collector/corechecks/mdns"
	"github.com/lanpets/lanpets/pkg/collector/corechecks/nmapscan"
	"github.com/lanpets/lanpets/pkg/collector/corechecks/ping"
	"github.com/lanpets/lanpets/pkg/collector/corechecks/snmpcheck"
	"github.com/lanpets/lanpets/pkg/collector/corechecks/tplink"
	"github.com/lanpets/lanpets/pkg/config"
	"github.com/lanpets/lanpets/pkg/petai"
	"github.com/lanpets/lanpets/pkg/store"
)

// Command returns the run subcommand.
func Command(globalParams *command.GlobalParams) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the monitor service",
		Long:  "Starts every collector enabled in the configuration and blocks until a signal or a fatal error.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(globalParams)
		},
	}
}

func run(globalParams *command.GlobalParams) error {
	cfg, err := config.Load(globalParams.ConfFilePath)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DatabasePath, store.WithHardCodedInterfaces(cfg.HardCodedPetInterfaces))
	if err != nil {
		return err
	}
	defer st.Close()

	var checks []check.Check
	if cfg.Pinger != nil {
		checks = append(checks, ping.New(cfg.Pinger, st))
	}
	if cfg.TPLink != nil {
		checks = append(checks, tplink.New(cfg.TPLink, st))
	}
	if cfg.NMAP != nil {
		checks = append(checks, nmapscan.New(cfg.NMAP, st))
	}
	if cfg.SNMP != nil {
		checks = append(checks, snmpcheck.New(cfg.SNMP, st))
	}
	if cfg.MDNS != nil {
		checks = append(checks, mdns.New(cfg.MDNS, st))
	}
	if cfg.PetAI != nil {
		checks = append(checks, petai.New(cfg.PetAI, st))
	}
	if len(checks) == 0 {
		return errors.New("no collectors enabled in the configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("checks", len(checks)).Info("Monitor starting")
	return collector.NewRunner(checks...).Run(ctx)
}
