// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are located
// in separate files guarded by build tags.

package affinity

import (
	"fmt"

	"github.com/momentics/hioload-httpd/api"
)

// SetAffinity pins the calling OS thread to cpuID. The caller must hold
// runtime.LockOSThread, otherwise the goroutine may migrate off the pinned thread.
// Unsupported platforms return an error wrapping api.ErrNotSupported.
func SetAffinity(cpuID int) error {
	if cpuID < 0 {
		return fmt.Errorf("affinity: cpu %d: %w", cpuID, api.ErrInvalidArgument)
	}
	return setAffinityPlatform(cpuID)
}
