package main

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/godzooka/grab-ia/internal/model"
	"github.com/godzooka/grab-ia/internal/store"
)

// cmdValidate re-checks every file the store believes is done against
// what is actually on disk, without touching the network. It reports
// mismatches but never mutates the store; an operator decides whether to
// resume (which will re-fetch anything this flags, once its status is
// reset) or investigate further.
func cmdValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "grabia validate: output root is required")
		return ExitInvalidArgs
	}
	outputRoot := fs.Arg(0)

	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(outputRoot, "grabia.db"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "grabia:", err)
		return ExitGeneralError
	}
	defer st.Close()

	job, err := st.LoadJob(ctx, outputRoot)
	if err != nil {
		fmt.Fprintln(os.Stderr, "grabia:", err)
		return ExitGeneralError
	}

	items, err := st.ListItems(ctx, job.ID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "grabia:", err)
		return ExitGeneralError
	}

	mismatches := 0
	checked := 0
	for _, item := range items {
		files, err := st.ListFiles(ctx, item.ID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "grabia:", err)
			return ExitGeneralError
		}
		for _, f := range files {
			if f.Status != model.FileDone {
				continue
			}
			checked++
			if problem := validateFile(f); problem != "" {
				mismatches++
				fmt.Printf("MISMATCH %s: %s\n", f.LocalPath, problem)
			}
		}
	}

	fmt.Printf("validated %d done files, %d mismatches\n", checked, mismatches)
	if mismatches > 0 {
		return ExitGeneralError
	}
	return ExitSuccess
}

func validateFile(f *model.File) string {
	info, err := os.Stat(f.LocalPath)
	if err != nil {
		return fmt.Sprintf("stat: %v", err)
	}
	if f.RemoteSize > 0 && info.Size() != f.RemoteSize {
		return fmt.Sprintf("size %d != expected %d", info.Size(), f.RemoteSize)
	}
	if f.ExpectedChecksum == "" {
		return ""
	}
	sum, err := md5sum(f.LocalPath)
	if err != nil {
		return fmt.Sprintf("hash: %v", err)
	}
	if sum != f.ExpectedChecksum {
		return fmt.Sprintf("digest %s != expected %s", sum, f.ExpectedChecksum)
	}
	return ""
}

func md5sum(path string) (string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer fh.Close()
	h := md5.New()
	if _, err := io.Copy(h, fh); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
