package warminit

import (
	"errors"

	"github.com/signalsfoundry/warmsync/internal/snapshot"
)

var (
	// ErrAlreadyInProgress is returned by Begin while another window is open
	// on the same device. It is never retried automatically.
	ErrAlreadyInProgress = errors.New("reconciliation window already in progress")
	// ErrWindowClosed is returned when a provisioning, end or abort call
	// reaches a window that is not replaying. It is the same sentinel the
	// snapshot store returns after Freeze.
	ErrWindowClosed = snapshot.ErrWindowClosed
	// ErrWindowNotFound indicates no open window has the requested ID.
	ErrWindowNotFound = errors.New("reconciliation window not found")
	// ErrCaptureFailed wraps a Hardware State Reader failure at lock time.
	ErrCaptureFailed = errors.New("observed state capture failed")
)
