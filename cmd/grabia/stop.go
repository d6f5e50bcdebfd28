package main

import (
	"flag"
	"fmt"
	"os"
)

func cmdStop(args []string) int {
	fs := flag.NewFlagSet("stop", flag.ContinueOnError)
	addr := fs.String("metrics-addr", "", "address of the running job's control endpoint, e.g. :9090")
	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *addr == "" {
		fmt.Fprintln(os.Stderr, "grabia stop: --metrics-addr is required (the running process must have been started with it)")
		return ExitInvalidArgs
	}
	if err := requestStop(*addr); err != nil {
		fmt.Fprintln(os.Stderr, "grabia:", err)
		return ExitGeneralError
	}
	return ExitSuccess
}
