// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package command holds the shared state of the monitor command tree.
package command

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// GlobalParams carries the flags every subcommand sees.
type GlobalParams struct {
	// ConfFilePath is the path of the YAML configuration file.
	ConfFilePath string

	// LogLevel is the logrus level name.
	LogLevel string
}

// SubcommandFactory builds one subcommand from the global parameters.
type SubcommandFactory func(*GlobalParams) *cobra.Command

// MakeCommand assembles the root command from subcommand factories.
func MakeCommand(subcommandFactories []SubcommandFactory) *cobra.Command {
	globalParams := GlobalParams{}

	rootCmd := &cobra.Command{
		Use:          "monitor",
		Short:        "LAN pet monitor",
		Long:         "Watches the devices on the local network and keeps them as pets.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.ParseLevel(globalParams.LogLevel)
			if err != nil {
				return fmt.Errorf("invalid log level %q: %w", globalParams.LogLevel, err)
			}
			log.SetLevel(level)
			log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&globalParams.ConfFilePath, "cfgpath", "c",
		"monitor.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().StringVarP(&globalParams.LogLevel, "log-level", "l",
		"info", "log level (trace, debug, info, warn, error)")

	for _, factory := range subcommandFactories {
		rootCmd.AddCommand(factory(&globalParams))
	}
	return rootCmd
}
