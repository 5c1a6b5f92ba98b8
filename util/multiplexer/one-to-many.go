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

// A one to many multiplexer
// Every message given to Send is delivered to every receiver, in order.
// Receivers are buffered, a slow receiver delays the others once its buffer is full.
type OneToMany[T any] struct {
	inbound   chan T
	outbound  map[string]chan T // Use map here to give names to outbound channels
	lock      sync.Mutex
	closeChan chan struct{}
	closed    bool
}

func NewOneToMany[T any]() *OneToMany[T] {
	return &OneToMany[T]{
		inbound:   make(chan T),
		outbound:  make(map[string]chan T),
		closeChan: make(chan struct{}),
	}
}

// Send a message to all receivers
// Blocks until the plexer took it, fails once the plexer is closed
func (o *OneToMany[T]) Send(msg T) error {
	o.lock.Lock()
	closed := o.closed
	o.lock.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case o.inbound <- msg:
		return nil
	case <-o.closeChan:
		return ErrClosed
	}
}

// Create a new receiver for the multiplexer to send messages to.
// Please do not close this manually, instead use the CloseReceiver func
func (o *OneToMany[T]) MakeReceiver(name string, buffer int) (<-chan T, error) {
	o.lock.Lock()
	defer o.lock.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	if _, ok := o.outbound[name]; ok {
		return nil, errors.New("receiver with that name already exists")
	}
	rec := make(chan T, buffer)
	o.outbound[name] = rec
	return rec, nil
}

// Closes a receiver channel with the given name and removes it from the multiplexer
func (o *OneToMany[T]) CloseReceiver(name string) {
	o.lock.Lock()
	defer o.lock.Unlock()
	if val, ok := o.outbound[name]; ok {
		close(val)
		delete(o.outbound, name)
	}
}

// Start this one to many multiplexer
// intended to run as a goroutine (`go plexer.StartPlexer()`)
func (o *OneToMany[T]) StartPlexer() {
	for {
		select {
		// Message gotten from inbound channel
		case msg := <-o.inbound:
			o.lock.Lock()
			// Send it to all outbound channels
			for _, c := range o.outbound {
				c <- msg
			}
			o.lock.Unlock()
		// Told to close the plexer
		case <-o.closeChan:
			o.lock.Lock()
			// Close all outbound channels, readers will just stop
			for name, c := range o.outbound {
				close(c)
				delete(o.outbound, name)
			}
			o.lock.Unlock()
			return
		}
	}
}

// Close the plexer and all receiver channels and stop the distribution goroutine
func (o *OneToMany[T]) CloseSender() {
	o.lock.Lock()
	if o.closed {
		o.lock.Unlock()
		return
	}
	o.closed = true
	o.lock.Unlock()
	close(o.closeChan)
}
