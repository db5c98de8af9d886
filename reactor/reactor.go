// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral poller factory.

package reactor

import (
	"fmt"

	"github.com/momentics/hioload-httpd/api"
)

// Kind selects a poller backend.
type Kind string

const (
	// KindAuto picks the best backend for the platform.
	KindAuto Kind = ""
	// KindPoll uses poll(2); the wait-set is passed in full on every call.
	KindPoll Kind = "poll"
	// KindEpoll uses epoll(7) and only diffs registrations between calls.
	KindEpoll Kind = "epoll"
)

// ParseKind maps a configuration string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindAuto, KindPoll, KindEpoll:
		return k, nil
	case "auto":
		return KindAuto, nil
	default:
		return KindAuto, fmt.Errorf("poller kind %q: %w", s, api.ErrInvalidArgument)
	}
}

// New constructs a poller of the given kind.
func New(kind Kind) (api.Poller, error) {
	if kind == KindAuto {
		kind = defaultKind
	}
	switch kind {
	case KindPoll:
		return newPollPoller()
	case KindEpoll:
		return newEpollPoller()
	default:
		return nil, fmt.Errorf("poller kind %q: %w", kind, api.ErrInvalidArgument)
	}
}
