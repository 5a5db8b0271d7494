// SPDX-License-Identifier: MIT

package worker

import "errors"

var (
	// ErrExited is returned for requests that were pending when the worker
	// process died. The caller must reissue the command; the next one
	// respawns the process.
	ErrExited = errors.New("worker process exited")

	// ErrWriteFailed is returned when a command could not be delivered to
	// the worker input stream. Not retryable internally.
	ErrWriteFailed = errors.New("worker write failed")
)
