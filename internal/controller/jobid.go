package controller

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

// DeriveJobID computes the stable job identity from an output root path,
// so restarting against the same directory always resumes the same job
// regardless of working directory at invocation time.
func DeriveJobID(outputRoot string) (string, error) {
	abs, err := filepath.Abs(outputRoot)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(filepath.Clean(abs)))
	return hex.EncodeToString(sum[:])[:16], nil
}
