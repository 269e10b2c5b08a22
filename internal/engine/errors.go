package engine

import (
	"errors"
	"fmt"
)

// SyncError reports a sync that was skipped or aborted.
//
// Skipped syncs (missing alliance id, empty roster) touch no stored
// state. Aborted syncs failed while persisting; the event stream and
// notifications are not attempted.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// AllianceID identifies the affected alliance, when known.
	AllianceID string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// SyncErrorCode categorizes sync errors.
type SyncErrorCode string

const (
	// ErrCodeMissingAllianceID indicates a request without an alliance id.
	ErrCodeMissingAllianceID SyncErrorCode = "MISSING_ALLIANCE_ID"

	// ErrCodeEmptyRoster indicates a request with no scraped members.
	ErrCodeEmptyRoster SyncErrorCode = "EMPTY_ROSTER"

	// ErrCodeFetchFailed indicates the roster source could not be read.
	ErrCodeFetchFailed SyncErrorCode = "FETCH_FAILED"

	// ErrCodePersistFailed indicates a write to storage failed.
	ErrCodePersistFailed SyncErrorCode = "PERSIST_FAILED"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.AllianceID != "" {
		msg = fmt.Sprintf("%s (alliance=%s)", msg, e.AllianceID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsSkipped reports whether err is a SyncError for a request that was
// rejected before any state was read.
func IsSkipped(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == ErrCodeMissingAllianceID || se.Code == ErrCodeEmptyRoster
	}
	return false
}

// ErrBusy is returned by Puller when a sync for the same alliance is
// already running.
var ErrBusy = errors.New("sync already in progress")
