// Package credentials loads the engine's key=value credentials file
// (recognized keys S3_ACCESS_KEY, S3_SECRET_KEY; "#" comments), using
// github.com/joho/godotenv to parse the grammar since it is exactly
// godotenv's own file format.
package credentials

import (
	"fmt"

	"github.com/joho/godotenv"

	"github.com/godzooka/grab-ia/internal/httpclient"
)

const (
	keyAccess = "S3_ACCESS_KEY"
	keySecret = "S3_SECRET_KEY"
)

// Load parses path and returns the archive credentials attached to every
// fetch request's authorization header.
func Load(path string) (*httpclient.Credentials, error) {
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("credentials: read %s: %w", path, err)
	}
	return &httpclient.Credentials{
		AccessKey: vars[keyAccess],
		SecretKey: vars[keySecret],
	}, nil
}
