// Command grabia drives the download engine: start, resume, stop,
// status, and validate subcommands over the Job Controller's public
// contract. Argument parsing, output formatting, and process lifecycle
// are thin surface over the engine; all of the hard logic lives in
// internal/controller and the packages it wires together.
package main

import (
	"fmt"
	"os"
)

// Exit codes, named per the engine's CLI contract (spec section 6).
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitInvalidArgs  = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return ExitInvalidArgs
	}

	switch args[0] {
	case "start":
		return cmdStart(args[1:])
	case "resume":
		return cmdResume(args[1:])
	case "stop":
		return cmdStop(args[1:])
	case "status":
		return cmdStatus(args[1:])
	case "validate":
		return cmdValidate(args[1:])
	case "limits":
		return cmdLimits(args[1:])
	case "-h", "--help", "help":
		usage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "grabia: unknown command %q\n", args[0])
		usage()
		return ExitInvalidArgs
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: grabia <command> [flags]

commands:
  start     begin a new job against an output directory
  resume    resume a previously started job
  stop      request a running job to stop (requires --metrics-addr of a live process)
  status    print the current snapshot for an output directory
  validate  verify on-disk files against the state store without fetching
  limits    change the worker/bandwidth ceiling of a running job (requires --metrics-addr)`)
}
