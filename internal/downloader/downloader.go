package downloader

import (
	"context"
	"errors"
)

// ErrAborted is reported by transfers that stopped because Abort was called.
var ErrAborted = errors.New("transfer aborted")

// Client starts one outbound byte transfer per Begin call.
type Client interface {
	// Begin starts fetching locator into a temporary file. ctx scopes the
	// request setup only; the transfer itself runs until it finishes or
	// the handle is aborted.
	Begin(ctx context.Context, locator string) (Handle, error)
}

// Handle is the caller's side of a running transfer.
//
// Events delivers progress events followed by exactly one Complete or
// Failed event, then the channel is closed. Once Abort has been called no
// further events are delivered, the channel is closed and any partially
// written temporary file is discarded by the transfer.
type Handle interface {
	Events() <-chan Event
	Abort()
}
