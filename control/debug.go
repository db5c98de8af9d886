// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Named debug probes dumped by the /debug/state handler.

package control

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Probe reports one value for /debug/state. Probes run on the caller's goroutine,
// never on the server loop, so they may only read atomics and published snapshots.
type Probe func() any

// DebugProbes holds registered probes keyed by dotted name ("server.sessions",
// "platform.cpus"). The part before the first dot is the probe's group.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]Probe
}

// NewDebugProbes creates a probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{
		probes: make(map[string]Probe),
	}
}

// RegisterProbe inserts or replaces a named probe.
func (dp *DebugProbes) RegisterProbe(name string, fn Probe) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.probes[name] = fn
}

// Names returns the registered probe names, sorted.
func (dp *DebugProbes) Names() []string {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make([]string, 0, len(dp.probes))
	for k := range dp.probes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DumpState returns the output of all probes.
func (dp *DebugProbes) DumpState() map[string]any {
	return dp.Dump("")
}

// Dump returns the output of the probes whose name starts with prefix. A probe
// that panics reports the panic as its value.
func (dp *DebugProbes) Dump(prefix string) map[string]any {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make(map[string]any, len(dp.probes))
	for k, fn := range dp.probes {
		if strings.HasPrefix(k, prefix) {
			out[k] = run(fn)
		}
	}
	return out
}

func run(fn Probe) (v any) {
	defer func() {
		if r := recover(); r != nil {
			v = fmt.Sprintf("probe panicked: %v", r)
		}
	}()
	return fn()
}
