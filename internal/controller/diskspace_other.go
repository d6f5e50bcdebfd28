//go:build !linux

package controller

// diskFreeBytes is left unsupported on non-Linux platforms: the engine
// still runs, just without disk-space telemetry in its Snapshot.
func diskFreeBytes(path string) uint64 {
	return 0
}
