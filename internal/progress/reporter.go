// Package progress renders human-readable status lines from the
// Controller's Snapshot stream, for CLI collaborators, plus the
// byte-size formatting/parsing helpers shared with the config package.
package progress

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/godzooka/grab-ia/internal/controller"
)

// Reporter prints one refreshed status line per Snapshot received.
type Reporter struct {
	output io.Writer
}

// NewReporter builds a Reporter writing to os.Stdout.
func NewReporter() *Reporter {
	return &Reporter{output: os.Stdout}
}

// Run consumes snapshots until the channel closes.
func (r *Reporter) Run(snapshots <-chan controller.Snapshot) {
	for snap := range snapshots {
		r.render(snap)
	}
	fmt.Fprintln(r.output)
}

func (r *Reporter) render(s controller.Snapshot) {
	eta := "calculating..."
	if s.ETASeconds > 0 {
		eta = formatDuration(time.Duration(s.ETASeconds * float64(time.Second)))
	}
	quiet := ""
	if s.QuietUntil.After(time.Now()) {
		quiet = fmt.Sprintf(" | quiet until %s", s.QuietUntil.Format(time.RFC3339))
	}
	fmt.Fprintf(r.output, "\r[grabia] %d/%d done | %d failed | %d pending | %s/s | workers %d | ETA %s%s    ",
		s.Done, s.Total, s.Failed, s.Pending, FormatBytes(int64(s.BytesPerSecond)), s.Workers, eta, quiet)
}

// FormatBytes formats bytes as a human-readable string.
func FormatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)
	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// ParseBytes parses a human-readable byte string (e.g., "256MB"), used by
// the CLI's --bandwidth-ceiling flag.
func ParseBytes(s string) (int64, error) {
	var multiplier int64 = 1
	switch {
	case hasSuffix(s, "TB"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = s[:len(s)-2]
	case hasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = s[:len(s)-2]
	case hasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = s[:len(s)-2]
	case hasSuffix(s, "KB"):
		multiplier = 1024
		s = s[:len(s)-2]
	case hasSuffix(s, "B"):
		s = s[:len(s)-1]
	}

	var value float64
	if _, err := fmt.Sscanf(s, "%f", &value); err != nil {
		return 0, fmt.Errorf("progress: invalid byte string %q", s)
	}
	return int64(value * float64(multiplier)), nil
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
