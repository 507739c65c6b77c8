// ABOUTME: Error types for chunk fetching
// ABOUTME: Timeout and failure per attempt, exhaustion after retries
package fetch

import (
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by a fetcher whose session has ended
var ErrClosed = errors.New("fetcher closed")

// FetchTimeoutError is one attempt that exceeded the adaptive timeout
type FetchTimeoutError struct {
	ChunkIndex int
	Attempt    int
	Timeout    time.Duration
}

func (e *FetchTimeoutError) Error() string {
	return fmt.Sprintf("chunk %d attempt %d timed out after %v", e.ChunkIndex, e.Attempt, e.Timeout)
}

// FetchFailureError is one attempt that failed for any other reason
type FetchFailureError struct {
	ChunkIndex int
	Attempt    int
	Cause      error
}

func (e *FetchFailureError) Error() string {
	return fmt.Sprintf("chunk %d attempt %d failed: %v", e.ChunkIndex, e.Attempt, e.Cause)
}

func (e *FetchFailureError) Unwrap() error {
	return e.Cause
}

// ChunkFetchError is surfaced once every retry of a chunk has failed
type ChunkFetchError struct {
	ChunkIndex int
	Attempts   int
	Cause      error
}

func (e *ChunkFetchError) Error() string {
	return fmt.Sprintf("failed to fetch chunk %d after %d attempts: %v", e.ChunkIndex, e.Attempts, e.Cause)
}

func (e *ChunkFetchError) Unwrap() error {
	return e.Cause
}
