// Copyright (C) 2021 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"go.bug.st/serial"
)

const (
	defaultBaud        = 115200
	defaultReadTimeout = 50 * time.Millisecond
)

// serialOpen opens port. With a positive readTimeout, reads return early
// when no data arrives in time, which ReadLine relies on.
func serialOpen(port string, mode *serial.Mode, readTimeout time.Duration) (*serialPort, error) {
	dev, err := serial.Open(port, mode)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("the port '%s' was not found", port)
	}
	if err != nil {
		return nil, err
	}

	if readTimeout > 0 {
		if err := dev.SetReadTimeout(readTimeout); err != nil {
			dev.Close()
			return nil, err
		}
	}

	return &serialPort{
		Port:  dev,
		lines: newLineReader(dev, readTimeout),
	}, nil
}

type serialPort struct {
	serial.Port
	lines *lineReader
}

func (s serialPort) Read(buf []byte) (n int, err error) {
	n, err = s.Port.Read(buf)
	if err == nil && n == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	return n, err
}

func (s *serialPort) ReadLine() ([]byte, error) {
	return s.lines.ReadLine()
}

func (s *serialPort) Reboot() {
	s.SetDTR(false)
	s.SetRTS(true)
	time.Sleep(100 * time.Millisecond)
	s.SetRTS(false)
}

// lineReader splits a port with a read timeout into lines. A line is
// everything up to and including '\n', or whatever arrived before the
// timeout expired. Without a timeout only '\n' or an empty read end a line.
type lineReader struct {
	r       io.Reader
	timeout time.Duration
	buf     []byte
	pending []byte
}

func newLineReader(r io.Reader, timeout time.Duration) *lineReader {
	return &lineReader{
		r:       r,
		timeout: timeout,
		buf:     make([]byte, 256),
	}
}

func (l *lineReader) ReadLine() ([]byte, error) {
	deadline := time.Now().Add(l.timeout)
	for {
		if i := bytes.IndexByte(l.pending, '\n'); i >= 0 {
			return l.take(i + 1), nil
		}

		n, err := l.r.Read(l.buf)
		l.pending = append(l.pending, l.buf[:n]...)
		if err != nil {
			return nil, err
		}

		if bytes.IndexByte(l.buf[:n], '\n') >= 0 {
			continue
		}
		if n == 0 || (l.timeout > 0 && !time.Now().Before(deadline)) {
			return l.take(len(l.pending)), nil
		}
	}
}

func (l *lineReader) take(n int) []byte {
	line := bytes.Clone(l.pending[:n])
	l.pending = l.pending[n:]
	return line
}
