package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/godzooka/grab-ia/internal/progress"
)

func cmdLimits(args []string) int {
	fs := flag.NewFlagSet("limits", flag.ContinueOnError)
	addr := fs.String("metrics-addr", "", "address of the running job's control endpoint, e.g. :9090")
	workers := fs.Int("workers", 0, "new worker_ceiling (required, > 0)")
	bandwidth := fs.String("bandwidth", "", "new bandwidth_ceiling_bps, e.g. 5MB (empty = unlimited)")
	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *addr == "" {
		fmt.Fprintln(os.Stderr, "grabia limits: --metrics-addr is required (the running process must have been started with it)")
		return ExitInvalidArgs
	}
	if *workers <= 0 {
		fmt.Fprintln(os.Stderr, "grabia limits: --workers must be > 0")
		return ExitInvalidArgs
	}
	var bps int64
	if *bandwidth != "" {
		n, err := progress.ParseBytes(*bandwidth)
		if err != nil {
			fmt.Fprintln(os.Stderr, "grabia limits: parse --bandwidth:", err)
			return ExitInvalidArgs
		}
		bps = n
	}
	if err := requestLimits(*addr, *workers, bps); err != nil {
		fmt.Fprintln(os.Stderr, "grabia:", err)
		return ExitGeneralError
	}
	return ExitSuccess
}
