// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package eventloop runs all display work serially on one goroutine.
// Other goroutines hand work to it with Post, Call and event sources.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mstarongithub/scanout/util/multiplexer"
	"github.com/sirupsen/logrus"
)

var ErrStopped = errors.New("event loop is stopped")

var log = logrus.WithField("component", "loop")

// Token identifies an inserted source
type Token uint64

type source struct {
	name string
	stop chan struct{}
}

type Loop struct {
	queue *multiplexer.ManyToOne[func()]

	mu      sync.Mutex
	sources map[Token]*source
	next    Token

	beat    atomic.Int64
	stop    chan struct{}
	stopped sync.Once
	running atomic.Bool
}

func New() *Loop {
	l := &Loop{
		queue:   multiplexer.NewManyToOne[func()](),
		sources: map[Token]*source{},
		stop:    make(chan struct{}),
	}
	l.beat.Store(time.Now().UnixNano())
	return l
}

// Post queues fn to run on the loop. Safe from any goroutine, including the loop itself.
func (l *Loop) Post(fn func()) error {
	if err := l.queue.Send(fn); err != nil {
		return ErrStopped
	}
	return nil
}

// Call runs fn on the loop and waits for it. Must not be used from the loop goroutine.
func (l *Loop) Call(fn func() error) error {
	done := make(chan error, 1)
	if err := l.Post(func() { done <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-l.stop:
		return ErrStopped
	}
}

// Timer is a pending AfterFunc
type Timer struct {
	t         *time.Timer
	cancelled atomic.Bool
}

// Stop prevents the function from running if it did not run yet
func (t *Timer) Stop() {
	t.cancelled.Store(true)
	t.t.Stop()
}

// AfterFunc runs fn on the loop after d
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	timer := &Timer{}
	timer.t = time.AfterFunc(d, func() {
		_ = l.Post(func() {
			if !timer.cancelled.Load() {
				fn()
			}
		})
	})
	return timer
}

// Insert forwards everything received on ch to handle, on the loop and in order.
// The source lives until Remove, Stop or until ch is closed.
func Insert[T any](l *Loop, name string, ch <-chan T, handle func(T)) (Token, error) {
	if l.queue.Closed() {
		return 0, fmt.Errorf("insert source %s: %w", name, ErrStopped)
	}
	l.mu.Lock()
	l.next++
	tok := l.next
	src := &source{name: name, stop: make(chan struct{})}
	l.sources[tok] = src
	l.mu.Unlock()

	go func() {
		defer l.forget(tok)
		for {
			select {
			case v, ok := <-ch:
				if !ok {
					log.WithField("source", name).Debugln("Source closed")
					return
				}
				if err := l.Post(func() { handle(v) }); err != nil {
					return
				}
			case <-src.stop:
				return
			case <-l.stop:
				return
			}
		}
	}()
	log.WithFields(logrus.Fields{"source": name, "token": tok}).Debugln("Inserted source")
	return tok, nil
}

func (l *Loop) forget(tok Token) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sources, tok)
}

// Remove stops a source. Values it already posted still run.
func (l *Loop) Remove(tok Token) {
	l.mu.Lock()
	src, ok := l.sources[tok]
	delete(l.sources, tok)
	l.mu.Unlock()
	if ok {
		close(src.stop)
		log.WithField("source", src.name).Debugln("Removed source")
	}
}

// Sources lists the names of the live sources
func (l *Loop) Sources() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.sources))
	for _, s := range l.sources {
		names = append(names, s.name)
	}
	return names
}

// Run dispatches posted work until ctx is done or Stop is called
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return errors.New("event loop is already running")
	}
	defer l.running.Store(false)
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.stop:
			l.dispatch()
			return nil
		case <-l.queue.Ready():
			l.dispatch()
		}
	}
}

// RunAfter queues start on the loop and then dispatches like Run.
// If start fails the loop is stopped and its error returned.
func (l *Loop) RunAfter(ctx context.Context, start func() error) error {
	var startErr error
	if err := l.Post(func() {
		if startErr = start(); startErr != nil {
			l.Stop()
		}
	}); err != nil {
		return err
	}
	err := l.Run(ctx)
	if startErr != nil {
		return startErr
	}
	return err
}

func (l *Loop) dispatch() {
	for _, fn := range l.queue.Drain() {
		fn()
	}
	l.beat.Store(time.Now().UnixNano())
}

// Stop makes Run return and stops every source
func (l *Loop) Stop() {
	l.stopped.Do(func() {
		l.queue.Close()
		close(l.stop)
	})
}

func (l *Loop) Done() <-chan struct{} { return l.stop }

// LastDispatch is when the loop last got through its queue
func (l *Loop) LastDispatch() time.Time {
	return time.Unix(0, l.beat.Load())
}

// Watchdog calls onStall when a probe posted to the loop is not run within
// timeout. A zero timeout disables it.
func (l *Loop) Watchdog(timeout time.Duration, onStall func(stalled time.Duration)) {
	if timeout <= 0 {
		return
	}
	var probe atomic.Int64
	go func() {
		ticker := time.NewTicker(timeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				if sent := probe.Load(); sent != 0 {
					if stalled := time.Since(time.Unix(0, sent)); stalled > timeout {
						onStall(stalled)
						return
					}
					continue
				}
				probe.Store(time.Now().UnixNano())
				if err := l.Post(func() { probe.Store(0) }); err != nil {
					return
				}
			}
		}
	}()
}
