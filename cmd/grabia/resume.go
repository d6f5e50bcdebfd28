package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/godzooka/grab-ia/internal/controller"
)

func cmdResume(args []string) int {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	var shared sharedFlags
	var engine engineFlags
	bindSharedFlags(fs, &shared)
	bindEngineFlags(fs, &engine)
	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "grabia resume: output root is required")
		return ExitInvalidArgs
	}
	outputRoot := fs.Arg(0)

	cfg, err := buildConfig(shared, &engine, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, "grabia:", err)
		return ExitGeneralError
	}
	// Resume never re-reads the input list; the job's identity comes from
	// outputRoot alone.
	cfg.OutputRoot = outputRoot
	if cfg.ManifestURL == "" || cfg.DownloadBaseURL == "" {
		fmt.Fprintln(os.Stderr, "grabia resume: --manifest-url and --download-url are required")
		return ExitInvalidArgs
	}
	if cfg.WorkerCeiling < 0 || cfg.WorkerCeiling > 64 {
		fmt.Fprintln(os.Stderr, "grabia resume: worker_ceiling must be in [0,64] (0 = keep persisted value)")
		return ExitInvalidArgs
	}

	return runEngine(func(ctx context.Context, ctrl *controller.Controller) error {
		if shared.metricsAddr != "" {
			serveControl(ctx, shared.metricsAddr, ctrl, ctrl.Logger())
		}
		return ctrl.Resume(ctx, outputRoot, toEngineConfig(cfg))
	})
}
