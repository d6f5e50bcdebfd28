package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/godzooka/grab-ia/internal/controller"
	"github.com/godzooka/grab-ia/internal/progress"
)

func cmdStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "grabia status: output root is required")
		return ExitInvalidArgs
	}
	outputRoot := fs.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ctrl := controller.New()
	snap, err := ctrl.Status(ctx, outputRoot)
	if err != nil {
		fmt.Fprintln(os.Stderr, "grabia:", err)
		return ExitGeneralError
	}

	fmt.Printf("total=%d done=%d failed=%d in-progress=%d pending=%d skipped=%d bytes=%s disk-free=%s\n",
		snap.Total, snap.Done, snap.Failed, snap.InProgress, snap.Pending, snap.Skipped,
		progress.FormatBytes(snap.BytesDone), progress.FormatBytes(int64(snap.DiskFreeBytes)))
	return ExitSuccess
}
