package quotagate

import "errors"

// Sentinel errors.
var (
	ErrClosed      = errors.New("quotagate: closed")
	ErrStoreClosed = errors.New("quotagate: store closed")
)
