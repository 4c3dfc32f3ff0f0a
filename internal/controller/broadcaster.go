// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package controller

import (
	"sync"
)

// broadcaster fans snapshots out to subscribers. Each subscriber holds at most
// one pending snapshot; a newer one replaces it.
type broadcaster struct {
	mu          sync.Mutex
	subscribers map[chan Snapshot]struct{}
	closed      bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{
		subscribers: make(map[chan Snapshot]struct{}),
	}
}

// subscribe registers a channel primed with the snapshot returned by current.
// current runs under the lock, so no publish can slip in between.
func (b *broadcaster) subscribe(current func() Snapshot) chan Snapshot {
	ch := make(chan Snapshot, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	ch <- current()
	b.subscribers[ch] = struct{}{}
	return ch
}

func (b *broadcaster) unsubscribe(ch chan Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

func (b *broadcaster) publish(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- s:
			continue
		default:
		}
		// drop the stale pending snapshot
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

func (b *broadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = make(map[chan Snapshot]struct{})
	b.closed = true
}
