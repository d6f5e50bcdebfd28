// Package readme renders the optional per-item README.txt from resolved
// manifest metadata. It is a thin, non-core helper the Job Controller
// calls once an item's file list has resolved, before any of the
// item's files are fetched.
package readme

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/godzooka/grab-ia/internal/manifest"
)

// Write renders README.txt under itemDir, listing the files retained
// after filtering for this item.
func Write(itemDir, identifier string, files []manifest.RemoteFile) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Archive item: %s\n", identifier)
	fmt.Fprintf(&b, "Downloaded: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Files (%d):\n", len(files))
	for _, f := range files {
		fmt.Fprintf(&b, "  %s (%d bytes)\n", f.Name, f.Size)
	}
	return os.WriteFile(filepath.Join(itemDir, "README.txt"), []byte(b.String()), 0o644)
}
