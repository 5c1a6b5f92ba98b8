// Copyright (c) 2024 mStar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrQuit ends Run without it being reported as a failure
var ErrQuit = errors.New("quit")

type MessageHandler func(string, *Repl) (string, error)

// ReadCloser combines the Reader and Closer interfaces
type ReadCloser interface {
	io.Reader
	io.Closer
}

type Repl struct {
	Input  ReadCloser
	Output io.WriteCloser
	// Written before every line that is read, if set
	Prompt  string
	scanner *bufio.Scanner
	writer  *bufio.Writer
}

// Creates a new repl
// If no input is given, stdin will be used
// If no output is given, stdout will be used
// Note: The given reader and writer will be closed once the repl stops
func NewRepl(in ReadCloser, out io.WriteCloser) *Repl {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &Repl{
		Input:   in,
		Output:  out,
		scanner: bufio.NewScanner(in),
		writer:  bufio.NewWriter(out),
	}
}

func (r *Repl) write(s string) error {
	if _, err := r.writer.WriteString(s); err != nil {
		return fmt.Errorf("failed to write %q: %w", s, err)
	}
	if err := r.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

// Starts the repl
// Blocks until the input ends or the handler returns an error.
// Blank lines are skipped, everything else goes to the handler.
// Returning ErrQuit from the handler prints its result and stops without error.
func (r *Repl) Run(onMessage MessageHandler) error {
	defer r.Close()
	for {
		if r.Prompt != "" {
			if err := r.write(r.Prompt); err != nil {
				return err
			}
		}
		if !r.scanner.Scan() {
			return r.scanner.Err()
		}
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		res, err := onMessage(line, r)
		if err != nil && !errors.Is(err, ErrQuit) {
			return fmt.Errorf("message handler errored out on message \"%s\": %w", line, err)
		}
		if res != "" {
			if werr := r.write(res + "\n"); werr != nil {
				return werr
			}
		}
		if err != nil {
			return nil
		}
	}
}

// Close stops the repl if it was still running
// This will also close the reader and writer
func (r *Repl) Close() {
	r.Input.Close()
	r.Output.Close()
}
