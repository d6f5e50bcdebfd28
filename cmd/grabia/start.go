package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/godzooka/grab-ia/internal/controller"
	"github.com/godzooka/grab-ia/internal/progress"
)

func cmdStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	var shared sharedFlags
	var engine engineFlags
	bindSharedFlags(fs, &shared)
	bindEngineFlags(fs, &engine)
	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := buildConfig(shared, &engine, true)
	if err != nil {
		fmt.Fprintln(os.Stderr, "grabia:", err)
		return ExitGeneralError
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "grabia:", err)
		return ExitInvalidArgs
	}

	return runEngine(func(ctx context.Context, ctrl *controller.Controller) error {
		if shared.metricsAddr != "" {
			serveControl(ctx, shared.metricsAddr, ctrl, ctrl.Logger())
		}
		return ctrl.Start(ctx, toEngineConfig(cfg))
	})
}

// runEngine wires SIGINT/SIGTERM into the engine's cancellation context
// and renders a progress line to stdout while it runs.
func runEngine(launch func(ctx context.Context, ctrl *controller.Controller) error) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := controller.New()
	reporter := progress.NewReporter()
	snapshots := ctrl.SubscribeMetrics(4)
	go reporter.Run(snapshots)

	err := launch(ctx, ctrl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "grabia:", err)
		if ctx.Err() != nil {
			return 2
		}
		return ExitGeneralError
	}
	return ExitSuccess
}
