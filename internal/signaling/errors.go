package signaling

import "errors"

// ErrHubStopped is returned by hub calls made after Run has returned.
var ErrHubStopped = errors.New("signaling hub stopped")
