//go:build !linux && !darwin

// File: reactor/poll_other.go
// Author: momentics <momentics@gmail.com>

package reactor

import (
	"fmt"

	"github.com/momentics/hioload-httpd/api"
)

func newPollPoller() (api.Poller, error) {
	return nil, fmt.Errorf("poll poller: %w", api.ErrNotSupported)
}
