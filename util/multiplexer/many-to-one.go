// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package multiplexer

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("multiplexer has been closed")

// A many to one multiplexer
// Any number of goroutines can Send, one receiver drains everything in send order.
// Unlike a raw channel, sending never blocks and sending after Close doesn't explode,
// so the receiver itself can send without deadlocking.
type ManyToOne[T any] struct {
	lock    sync.Mutex
	pending []T
	notify  chan struct{}
	closed  bool
}

// NewManyToOne creates a new ManyToOne multiplexer
func NewManyToOne[T any]() *ManyToOne[T] {
	return &ManyToOne[T]{
		notify: make(chan struct{}, 1),
	}
}

// Send a message to this many to one plexer
// If closed, the message won't get sent
func (m *ManyToOne[T]) Send(msg T) error {
	m.lock.Lock()
	if m.closed {
		m.lock.Unlock()
		return ErrClosed
	}
	m.pending = append(m.pending, msg)
	m.lock.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// Ready fires whenever there might be something to Drain
func (m *ManyToOne[T]) Ready() <-chan struct{} {
	return m.notify
}

// Drain takes all pending messages, oldest first
func (m *ManyToOne[T]) Drain() []T {
	m.lock.Lock()
	defer m.lock.Unlock()
	out := m.pending
	m.pending = nil
	return out
}

// Marks the plexer as closed, pending messages can still be drained
func (m *ManyToOne[T]) Close() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.closed = true
}

func (m *ManyToOne[T]) Closed() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.closed
}
