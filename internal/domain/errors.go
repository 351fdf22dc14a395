package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the remote blob was never initialized.
	ErrNotFound = errors.New("remote snapshot not found")
	// ErrTransient covers network failures, timeouts, non-2xx responses and
	// malformed payloads from the remote store.
	ErrTransient = errors.New("remote store unavailable")
	// ErrQuotaExceeded is returned by a local slot write that does not fit.
	ErrQuotaExceeded = errors.New("local storage quota exceeded")
	// ErrUploadFailed is reported when the upload widget did not produce a file.
	ErrUploadFailed = errors.New("upload failed")
)

type RemoteError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: http %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Is reports every RemoteError as transient unless it wraps ErrNotFound.
func (e *RemoteError) Is(target error) bool {
	if target == ErrTransient {
		return !errors.Is(e.Err, ErrNotFound)
	}
	return false
}

type UploadError struct {
	Message string
}

func (e *UploadError) Error() string {
	if e.Message == "" {
		return ErrUploadFailed.Error()
	}
	return fmt.Sprintf("%s: %s", ErrUploadFailed.Error(), e.Message)
}

func (e *UploadError) Is(target error) bool {
	return target == ErrUploadFailed
}
