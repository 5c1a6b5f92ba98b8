// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package eventloop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T) (*Loop, func()) {
	t.Helper()
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = l.Run(ctx)
		close(done)
	}()
	return l, func() {
		cancel()
		<-done
	}
}

func TestCallRunsOnLoop(t *testing.T) {
	l, stop := run(t)
	defer stop()

	var order []int
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Post(func() { order = append(order, i) }))
	}
	require.NoError(t, l.Call(func() error {
		order = append(order, 3)
		return nil
	}))
	assert.Equal(t, []int{0, 1, 2, 3}, order)

	boom := errors.New("boom")
	assert.ErrorIs(t, l.Call(func() error { return boom }), boom)
}

func TestInsertKeepsSourceOrder(t *testing.T) {
	l, stop := run(t)
	defer stop()

	ch := make(chan int)
	var got []int
	tok, err := Insert(l, "numbers", ch, func(v int) { got = append(got, v) })
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		ch <- i
	}
	// a Call posted after the last value was handed over runs after it
	require.Eventually(t, func() bool {
		var n int
		_ = l.Call(func() error { n = len(got); return nil })
		return n == 10
	}, time.Second, time.Millisecond)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)

	l.Remove(tok)
	assert.Empty(t, l.Sources())
}

func TestAfterFuncAndCancel(t *testing.T) {
	l, stop := run(t)
	defer stop()

	var fired, cancelled atomic.Bool
	l.AfterFunc(time.Millisecond, func() { fired.Store(true) })
	timer := l.AfterFunc(50*time.Millisecond, func() { cancelled.Store(true) })
	timer.Stop()

	assert.Eventually(t, fired.Load, time.Second, time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.False(t, cancelled.Load())
}

func TestStopRejectsWork(t *testing.T) {
	l, stop := run(t)
	stop()
	assert.ErrorIs(t, l.Post(func() {}), ErrStopped)
	_, err := Insert(l, "late", make(chan int), func(int) {})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestRunAfterReturnsStartError(t *testing.T) {
	failed := errors.New("no devices")
	l := New()
	ran := false
	require.NoError(t, l.Post(func() { ran = true }))
	err := l.RunAfter(context.Background(), func() error { return failed })
	assert.ErrorIs(t, err, failed)
	assert.True(t, ran)
	assert.ErrorIs(t, l.Post(func() {}), ErrStopped)
}

func TestRunAfterKeepsRunning(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- l.RunAfter(ctx, func() error {
			close(started)
			return nil
		})
	}()
	<-started
	assert.NoError(t, l.Call(func() error { return nil }))
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatchdogFiresOnStall(t *testing.T) {
	l, stop := run(t)
	defer stop()

	stalled := make(chan time.Duration, 1)
	release := make(chan struct{})
	defer close(release)
	l.Watchdog(20*time.Millisecond, func(d time.Duration) { stalled <- d })
	require.NoError(t, l.Post(func() { <-release }))

	select {
	case d := <-stalled:
		assert.Greater(t, d, 20*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not fire")
	}
}
