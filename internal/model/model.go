// Package model defines the durable entities shared by every engine
// package: jobs, items, and files, along with the error taxonomy used to
// classify fetch outcomes.
package model

import (
	"fmt"
	"time"
)

// ItemStatus is the resolution status of one archive identifier.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemResolving ItemStatus = "resolving"
	ItemResolved  ItemStatus = "resolved"
	ItemFailed    ItemStatus = "failed"
)

// FileStatus is the lifecycle status of one remote file.
type FileStatus string

const (
	FilePending    FileStatus = "pending"
	FileInProgress FileStatus = "in-progress"
	FileDone       FileStatus = "done"
	FileFailed     FileStatus = "failed"
	FileSkipped    FileStatus = "skipped"
)

// JobState is the Job Controller's top-level state machine position.
type JobState string

const (
	JobIdle        JobState = "idle"
	JobResolving   JobState = "resolving"
	JobDownloading JobState = "downloading"
	JobFinalizing  JobState = "finalizing"
	JobStopped     JobState = "stopped"
)

// Job is a bulk download session, keyed by an id derived from its output
// root so that restarts against the same directory resume the same job.
type Job struct {
	ID               string
	OutputRoot       string
	NameRegex        string
	ExtensionWhitelist []string
	MetadataOnly     bool
	AntiClutter      []string
	WorkerCeiling    int
	BandwidthCeilingBps int64
	Dynamic          bool
	Sync             bool
	State            JobState
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Item is one archive identifier within a job.
type Item struct {
	ID         int64
	JobID      string
	Identifier string
	Status     ItemStatus
	Error      string
}

// File is one remote file belonging to an item.
type File struct {
	ID               int64
	ItemID           int64
	RemoteName       string
	RemoteSize       int64
	ExpectedChecksum string
	LocalPath        string
	BytesDownloaded  int64
	Status           FileStatus
	Attempts         int
	LastError        string
	LastHTTPStatus   int
}

// ProgressSnapshot is the aggregate count returned by the State Store's
// progress_snapshot operation.
type ProgressSnapshot struct {
	Done       int
	Failed     int
	InProgress int
	Pending    int
	Skipped    int
	Total      int
	BytesDone  int64
}

// Code classifies a fetch failure into the taxonomy of spec section 7.
type Code string

const (
	CodeTransientNet Code = "transient-net"
	CodeThrottled    Code = "throttled"
	CodeOverloaded   Code = "overloaded"
	CodeAuth         Code = "auth"
	CodeNotFound     Code = "not-found"
	CodeIntegrity    Code = "integrity"
	CodeIO           Code = "io"
	CodeFatal        Code = "fatal"
)

// FetchError attaches a taxonomy Code to an underlying cause so callers
// can classify a failure with errors.As without parsing strings.
type FetchError struct {
	Code       Code
	HTTPStatus int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s", e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the fetcher should attempt this file again
// rather than mark it terminally failed.
func (e *FetchError) Retryable() bool {
	switch e.Code {
	case CodeTransientNet, CodeThrottled, CodeOverloaded, CodeIntegrity:
		return true
	default:
		return false
	}
}

// NewFetchError wraps err with a taxonomy code.
func NewFetchError(code Code, httpStatus int, err error) *FetchError {
	return &FetchError{Code: code, HTTPStatus: httpStatus, Err: err}
}
