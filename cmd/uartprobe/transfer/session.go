// Copyright (C) 2024 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

// Package transfer runs a static inference on a device over a line based
// AT command protocol.
//
// The exchange is:
//
//	host   -> AT\r
//	device <- "> "
//	host   -> AT+RUNIMPULSESTATIC=n,<values>\r
//	device <- line containing OK and the chunk size
//	host   -> chunk, device <- OK   (repeated)
//	device <- END OUTPUT\r\n
//
// The device may answer any request with TIMEOUT\r\n, which ends the session.
package transfer

import (
	"context"
	"fmt"
	"io"
	"time"
)

type Options struct {
	// Settle is the delay before the first command, giving the device time to boot.
	Settle time.Duration
	// ChunkDelay is the pause after each chunk is written.
	ChunkDelay time.Duration
	// SimulateTimeout slows down the transfer by SimulatedDelay per chunk so
	// that the device side timeout can be tested.
	SimulateTimeout bool
	SimulatedDelay  time.Duration
	// ResponseTimeout bounds every wait for a device response. Zero waits forever.
	ResponseTimeout time.Duration

	Log        io.Writer
	OnProgress func(sent int, total int)
}

func DefaultOptions() Options {
	return Options{
		Settle:         2 * time.Second,
		ChunkDelay:     10 * time.Millisecond,
		SimulatedDelay: 100 * time.Millisecond,
	}
}

// Result describes how far a session got.
type Result struct {
	ChunkSize     int
	PayloadLength int
	PaddedLength  int
	ChunksSent    int
	LastLine      string
}

// Chunks is the number of chunks the padded payload is split into.
func (r Result) Chunks() int {
	if r.ChunkSize == 0 {
		return 0
	}
	return r.PaddedLength / r.ChunkSize
}

// Session owns the transport for the duration of a run.
type Session struct {
	transport Transport
	payload   string
	rawLength int
	opts      Options
}

// NewSession prepares a run sending payload, which encodes rawLength values.
func NewSession(t Transport, payload string, rawLength int, opts Options) *Session {
	if opts.Log == nil {
		opts.Log = io.Discard
	}
	return &Session{
		transport: t,
		payload:   payload,
		rawLength: rawLength,
		opts:      opts,
	}
}

// Run performs the whole exchange. The transport is closed when Run returns.
func (s *Session) Run(ctx context.Context) (res Result, err error) {
	defer func() {
		if cerr := s.transport.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	res.PayloadLength = len(s.payload)

	if err := sleep(ctx, s.opts.Settle); err != nil {
		return res, err
	}

	if err := s.send(CommandAttention); err != nil {
		return res, err
	}
	if res.LastLine, err = s.await(ctx, AwaitResponseExact, Prompt); err != nil {
		return res, err
	}

	if err := s.send(RunStaticCommand(s.rawLength)); err != nil {
		return res, err
	}
	if res.LastLine, err = s.await(ctx, AwaitResponse, Ack); err != nil {
		return res, err
	}

	if res.ChunkSize, err = ParseChunkSize(res.LastLine); err != nil {
		return res, err
	}
	fmt.Fprintf(s.opts.Log, "Chunk size is %d\n", res.ChunkSize)

	data := s.payload
	if len(data)%res.ChunkSize != 0 {
		fmt.Fprintf(s.opts.Log, "Data size before padding %d\n", len(data))
		data = PadPayload(data, res.ChunkSize)
		fmt.Fprintf(s.opts.Log, "Data size after padding %d\n", len(data))
	}
	res.PaddedLength = len(data)

	for sent := 0; sent < len(data); sent += res.ChunkSize {
		if err := s.send(data[sent : sent+res.ChunkSize]); err != nil {
			return res, err
		}
		res.ChunksSent++
		if err := sleep(ctx, s.opts.ChunkDelay); err != nil {
			return res, err
		}
		fmt.Fprintf(s.opts.Log, "Total sent: %d\n", sent+res.ChunkSize)
		if s.opts.OnProgress != nil {
			s.opts.OnProgress(sent+res.ChunkSize, len(data))
		}

		if res.LastLine, err = s.await(ctx, AwaitResponse, Ack); err != nil {
			if err == ErrDeviceTimeout {
				fmt.Fprintln(s.opts.Log, "Data send time out. Terminating...")
			}
			return res, err
		}

		if s.opts.SimulateTimeout {
			if err := sleep(ctx, s.opts.SimulatedDelay); err != nil {
				return res, err
			}
		}
	}

	res.LastLine, err = s.await(ctx, AwaitResponseExact, EndOutputLine)
	return res, err
}

func (s *Session) send(text string) error {
	return EncodeAndSend(s.opts.Log, s.transport, text)
}

type awaitFunc func(ctx context.Context, log io.Writer, src LineSource, want string) (string, error)

// await runs fn under the response timeout and turns the device's TIMEOUT
// line into ErrDeviceTimeout.
func (s *Session) await(ctx context.Context, fn awaitFunc, want string) (string, error) {
	if s.opts.ResponseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ResponseTimeout)
		defer cancel()
	}
	line, err := fn(ctx, s.opts.Log, s.transport, want)
	if err != nil {
		if err == ErrResponseTimeout {
			return line, fmt.Errorf("%w: waiting for %q", err, want)
		}
		return line, err
	}
	if line == TimeoutLine {
		return line, ErrDeviceTimeout
	}
	return line, nil
}
