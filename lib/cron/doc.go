// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cron parses the cron expressions used by scheduled branch
// builds and computes the next occurrence after a given time.
//
// Supported syntax:
//
//	┌───────────── minute (0-59)
//	│ ┌───────────── hour (0-23)
//	│ │ ┌───────────── day of month (1-31)
//	│ │ │ ┌───────────── month (1-12 or JAN-DEC)
//	│ │ │ │ ┌───────────── day of week (0-7 or SUN-SAT, 0 and 7 are Sunday)
//	│ │ │ │ │
//	* * * * *
//
// Each field accepts values, ranges (1-5), lists (1,3,5), steps (*/15,
// 1-30/5) and the wildcard. The descriptors @hourly, @daily (alias
// @midnight and @nightly), @weekly, @monthly and @yearly (alias
// @annually) are also accepted. When both day fields are restricted a
// day matching either one matches, as in Vixie cron.
//
// A leading "TZ=<zone> " prefix evaluates the expression in that IANA
// zone; otherwise [ParseInLocation] chooses the zone and [Parse]
// uses UTC.
package cron
