package discovery

import "errors"

// ErrUsage is returned when the session is driven out of order, for example when RunDiscovery is
// called a second time.
var ErrUsage = errors.New("invalid use of discovery session")
