// Copyright (C) 2024 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	CommandAttention = "AT\r"
	Prompt           = "> "
	Ack              = "OK"
	TimeoutLine      = "TIMEOUT\r\n"
	EndOutputLine    = "END OUTPUT\r\n"

	runStaticFormat = "AT+RUNIMPULSESTATIC=n,%d\r"
)

var (
	// ErrDeviceTimeout is returned when the device reports TIMEOUT.
	ErrDeviceTimeout = errors.New("device reported a timeout")
	// ErrResponseTimeout is returned when no matching line arrived within
	// Options.ResponseTimeout.
	ErrResponseTimeout = errors.New("no response from device")
	ErrNoChunkSize     = errors.New("device did not report a chunk size")
)

// LineSource reads one line at a time. Like a serial readline with a read
// timeout, a line may be returned without its terminating '\n' (or empty) if
// nothing more arrived in time.
type LineSource interface {
	ReadLine() ([]byte, error)
}

// Transport is the connection to the device.
type Transport interface {
	io.Writer
	io.Closer
	LineSource
}

// RunStaticCommand returns the command that starts an inference run on
// rawLength values.
func RunStaticCommand(rawLength int) string {
	return fmt.Sprintf(runStaticFormat, rawLength)
}

// EncodeAndSend writes text to w and logs it.
func EncodeAndSend(log io.Writer, w io.Writer, text string) error {
	b := []byte(text)
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("failed to send %q: %w", text, err)
	}
	fmt.Fprintf(log, "Sent: %q Size: %d\n", text, len(b))
	return nil
}

// AwaitResponseExact reads lines until one equals expected or the device
// reports a timeout. The terminating line is returned.
func AwaitResponseExact(ctx context.Context, log io.Writer, src LineSource, expected string) (string, error) {
	return awaitLine(ctx, log, src, func(line string) bool { return line == expected })
}

// AwaitResponse reads lines until one contains substring or the device
// reports a timeout. The terminating line is returned.
func AwaitResponse(ctx context.Context, log io.Writer, src LineSource, substring string) (string, error) {
	return awaitLine(ctx, log, src, func(line string) bool { return strings.Contains(line, substring) })
}

func awaitLine(ctx context.Context, log io.Writer, src LineSource, match func(string) bool) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return "", ErrResponseTimeout
			}
			return "", err
		}
		b, err := src.ReadLine()
		if err != nil {
			return "", fmt.Errorf("failed to read from device: %w", err)
		}
		if len(b) == 0 {
			continue
		}
		line := string(b)
		fmt.Fprintf(log, "%q\n", line)
		if match(line) || line == TimeoutLine {
			return line, nil
		}
	}
}

// ParseChunkSize concatenates every decimal digit in line, in order, and
// parses the result.
func ParseChunkSize(line string) (int, error) {
	var digits strings.Builder
	for _, r := range line {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, fmt.Errorf("%w: %q", ErrNoChunkSize, line)
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0, fmt.Errorf("invalid chunk size in %q: %w", line, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: chunk size %d in %q", ErrNoChunkSize, n, line)
	}
	return n, nil
}

// PaddedLength is the smallest multiple of chunkSize that is at least n.
func PaddedLength(n int, chunkSize int) int {
	if rem := n % chunkSize; rem != 0 {
		return n + chunkSize - rem
	}
	return n
}

// PadPayload pads payload with '=' to a multiple of chunkSize.
func PadPayload(payload string, chunkSize int) string {
	return payload + strings.Repeat("=", PaddedLength(len(payload), chunkSize)-len(payload))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
