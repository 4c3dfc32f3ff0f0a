// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package controller

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBroadcaster_PublishDuringSubscribe(t *testing.T) {
	b := newBroadcaster()

	var latest atomic.Pointer[Snapshot]
	latest.Store(&Snapshot{FreeSpace: 1})

	loading := make(chan struct{})
	release := make(chan struct{})
	subscribed := make(chan chan Snapshot, 1)
	go func() {
		subscribed <- b.subscribe(func() Snapshot {
			close(loading)
			<-release
			return *latest.Load()
		})
	}()
	<-loading

	published := make(chan struct{})
	go func() {
		next := Snapshot{FreeSpace: 2}
		latest.Store(&next)
		b.publish(next)
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("publish completed while the subscriber was still loading")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	ch := <-subscribed
	<-published

	assert.Equal(t, uint64(2), (<-ch).FreeSpace)
	assert.Equal(t, 1, b.count())
}

func TestBroadcaster_SubscribeAfterClose(t *testing.T) {
	b := newBroadcaster()
	b.close()

	ch := b.subscribe(func() Snapshot {
		t.Fatal("loader called on a closed broadcaster")
		return Snapshot{}
	})
	_, ok := <-ch
	assert.False(t, ok)
}
