// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package check defines the interface every collector implements and the
// base type providing its boilerplate.
package check

import "time"

// Check is one periodic collector. The runner calls Poll on every loop
// quantum and Run once per Interval; a Run error is fatal to the whole
// service (collectors downgrade their transient failures to log warnings
// and only surface store faults).
type Check interface {
	// Run executes one collection tick.
	Run() error
	// Poll is called on every loop quantum, between ticks, for
	// non-blocking post-processing (e.g. ingesting a finished background
	// scan). Most checks do nothing here.
	Poll()
	// Interval returns the scheduling period of the check.
	Interval() time.Duration
	// Stop releases long-lived resources when the service shuts down.
	Stop()
	// String names the check in logs.
	String() string
}

// CheckBase provides default implementations for most of the Check
// interface; embed it and override Run (and Poll/Stop where needed).
type CheckBase struct {
	name     string
	interval time.Duration
}

// NewCheckBase returns a base for a check with the given name and period.
func NewCheckBase(name string, interval time.Duration) CheckBase {
	return CheckBase{name: name, interval: interval}
}

// Poll does nothing by default.
func (c *CheckBase) Poll() {}

// Stop does nothing by default.
func (c *CheckBase) Stop() {}

// Interval returns the scheduling period of the check.
func (c *CheckBase) Interval() time.Duration {
	return c.interval
}

// String returns the name of the check.
func (c *CheckBase) String() string {
	return c.name
}
