// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package repl

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closingBuffer struct {
	bytes.Buffer
	closed bool
}

func (b *closingBuffer) Close() error {
	b.closed = true
	return nil
}

func TestRunAnswersEveryLine(t *testing.T) {
	out := &closingBuffer{}
	r := NewRepl(io.NopCloser(strings.NewReader("outputs\n\n  devices \n")), out)

	var seen []string
	err := r.Run(func(in string, _ *Repl) (string, error) {
		seen = append(seen, in)
		return "ok " + in, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"outputs", "devices"}, seen)
	assert.Equal(t, "ok outputs\nok devices\n", out.String())
	assert.True(t, out.closed)
}

func TestQuitStopsCleanly(t *testing.T) {
	out := &closingBuffer{}
	r := NewRepl(io.NopCloser(strings.NewReader("quit\nnever\n")), out)
	r.Prompt = "> "

	err := r.Run(func(in string, _ *Repl) (string, error) {
		if in == "quit" {
			return "Quitting", ErrQuit
		}
		return in, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "> Quitting\n", out.String())
}

func TestHandlerErrorIsReturned(t *testing.T) {
	out := &closingBuffer{}
	r := NewRepl(io.NopCloser(strings.NewReader("boom\n")), out)
	failure := errors.New("broken")

	err := r.Run(func(string, *Repl) (string, error) { return "", failure })
	assert.ErrorIs(t, err, failure)
	assert.True(t, out.closed)
}
