// Command grabia-clean walks a job's output root and removes orphaned
// <name>.part files left behind by a job that is stopped and has been
// idle past a threshold. It only reads the State Store (LoadJob,
// ListItems, ListFiles); it never links against the Scheduler or Fetcher,
// since it must be safe to run against an output root no engine process
// currently holds.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/godzooka/grab-ia/internal/model"
	"github.com/godzooka/grab-ia/internal/store"
)

const stateFileName = "grabia.db"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flagSet := flag.NewFlagSet("grabia-clean", flag.ContinueOnError)
	idle := flagSet.Duration("idle", 24*time.Hour, "only clean jobs stopped for at least this long")
	dryRun := flagSet.Bool("dry-run", false, "print what would be removed without removing it")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: grabia-clean [--idle 24h] [--dry-run] <output_root>")
		return 2
	}
	outputRoot := flagSet.Arg(0)

	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(outputRoot, stateFileName))
	if err != nil {
		fmt.Fprintln(os.Stderr, "grabia-clean:", err)
		return 1
	}
	defer st.Close()

	job, err := st.LoadJob(ctx, outputRoot)
	if err != nil {
		fmt.Fprintln(os.Stderr, "grabia-clean:", err)
		return 1
	}
	if job.State != model.JobStopped {
		fmt.Printf("grabia-clean: job is %s, not stopped; nothing to do\n", job.State)
		return 0
	}
	if time.Since(job.UpdatedAt) < *idle {
		fmt.Printf("grabia-clean: job stopped %s ago, below the --idle threshold of %s\n",
			time.Since(job.UpdatedAt).Round(time.Second), *idle)
		return 0
	}

	live, err := livePartPaths(ctx, st, job.ID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "grabia-clean:", err)
		return 1
	}

	removed := 0
	err = filepath.WalkDir(outputRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(path, ".part") {
			return nil
		}
		if live[path] {
			return nil
		}
		if *dryRun {
			fmt.Println("would remove", path)
			return nil
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(os.Stderr, "grabia-clean: remove", path, ":", err)
			return nil
		}
		removed++
		fmt.Println("removed", path)
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "grabia-clean:", err)
		return 1
	}
	fmt.Printf("grabia-clean: removed %d orphaned partial(s)\n", removed)
	return 0
}

// livePartPaths returns the set of <name>.part paths that still belong to
// a file the store considers pending or in-progress, which a future
// resume would want to keep and continue rather than discard.
func livePartPaths(ctx context.Context, st *store.Store, jobID string) (map[string]bool, error) {
	files, err := st.ListQueueable(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list queueable: %w", err)
	}
	live := make(map[string]bool, len(files))
	for _, qf := range files {
		live[qf.File.LocalPath+".part"] = true
	}
	return live, nil
}
