// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package main is the entry point of the LAN pet monitor.
package main

import (
	"os"

	"github.com/lanpets/lanpets/cmd/monitor/command"
	"github.com/lanpets/lanpets/cmd/monitor/subcommands/query"
	"github.com/lanpets/lanpets/cmd/monitor/subcommands/run"
	"github.com/lanpets/lanpets/cmd/monitor/subcommands/version"
)

func main() {
	subcommands := []command.SubcommandFactory{
		run.Command,
		query.Command,
		version.Command,
	}
	if err := command.MakeCommand(subcommands).Execute(); err != nil {
		os.Exit(1)
	}
}
