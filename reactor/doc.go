// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides readiness multiplexers satisfying api.Poller:
// a poll(2) poller for linux and darwin and a level-triggered epoll poller for linux.
package reactor
