package cache

import (
	"errors"
	"fmt"
)

// ErrGenerationNotInstalled is returned when activating an unknown generation
var ErrGenerationNotInstalled = errors.New("cache generation not installed")

// ErrInstallInProgress is returned when an install is already running
var ErrInstallInProgress = errors.New("cache install already in progress")

// ErrEntryTooLarge is returned when a manifest entry exceeds the entry size limit
var ErrEntryTooLarge = errors.New("cache entry exceeds size limit")

// ManifestInstallError reports the manifest entry that aborted an install
type ManifestInstallError struct {
	Generation string
	URL        string
	StatusCode int
	Err        error
}

func (e *ManifestInstallError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("install %s: %s returned status %d", e.Generation, e.URL, e.StatusCode)
	}
	if e.URL == "" {
		return fmt.Sprintf("install %s: %v", e.Generation, e.Err)
	}
	return fmt.Sprintf("install %s: %s: %v", e.Generation, e.URL, e.Err)
}

func (e *ManifestInstallError) Unwrap() error {
	return e.Err
}

// FetchError is returned when a cache miss cannot reach the network
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
