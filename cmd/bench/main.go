// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command bench measures, compares and tracks operation latency.
//
// Usage:
//
//	bench run                           # measure the built-in workloads
//	bench run sort/1k map/insert-1k     # measure a subset
//	bench run --cmd "gzip=gzip -k -f data.bin" --runs 20
//	bench analyze timings.json          # analyze recorded durations
//	bench analyze timings.csv --watch   # re-analyze on every change
//	bench power --effect 0.3            # samples needed per group
//	bench history list                  # stored reports (history enabled)
//	bench history check                 # newest report vs its predecessor
//	bench serve                         # HTTP API on server.addr
//
// Configuration is read from --config (YAML). Without it the defaults
// apply and history is disabled unless --history is given.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(exitCode(err))
	}
}
