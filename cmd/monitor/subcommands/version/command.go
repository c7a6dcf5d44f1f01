// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package version implements the version subcommand.
package version

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/lanpets/lanpets/cmd/monitor/command"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Command returns the version subcommand.
func Command(globalParams *command.GlobalParams) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("monitor %s - Go version: %s\n", Version, runtime.Version())
		},
	}
}
