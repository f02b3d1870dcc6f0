package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedDevice replays a fixed sequence of lines and records writes.
type scriptedDevice struct {
	lines   []string
	written []string
	closed  int
}

func (d *scriptedDevice) Write(p []byte) (int, error) {
	d.written = append(d.written, string(p))
	return len(p), nil
}

func (d *scriptedDevice) ReadLine() ([]byte, error) {
	if len(d.lines) == 0 {
		return nil, io.EOF
	}
	line := d.lines[0]
	d.lines = d.lines[1:]
	return []byte(line), nil
}

func (d *scriptedDevice) Close() error {
	d.closed++
	return nil
}

// idleSource never produces data, like a silent device behind a read timeout.
type idleSource struct{ reads int }

func (s *idleSource) ReadLine() ([]byte, error) {
	s.reads++
	return nil, nil
}

func testOptions(log io.Writer) Options {
	return Options{Log: log}
}

func TestParseChunkSize(t *testing.T) {
	tests := []struct {
		line    string
		want    int
		wantErr bool
	}{
		{line: "OK 64\r\n", want: 64},
		{line: "OK chunk=64 end", want: 64},
		{line: "OK 1 then 28\r\n", want: 128},
		{line: "OK\r\n", wantErr: true},
		{line: "OK 0\r\n", wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.line, func(t *testing.T) {
			got, err := ParseChunkSize(test.line)
			if test.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, got)
		})
	}

	_, err := ParseChunkSize("OK\r\n")
	assert.ErrorIs(t, err, ErrNoChunkSize)
}

func TestPaddedLength(t *testing.T) {
	for chunk := 1; chunk <= 17; chunk++ {
		for n := 0; n <= 70; n++ {
			got := PaddedLength(n, chunk)
			assert.Zero(t, got%chunk, "n=%d chunk=%d", n, chunk)
			assert.GreaterOrEqual(t, got, n)
			assert.Less(t, got-n, chunk, "n=%d chunk=%d", n, chunk)
		}
	}
}

func TestPadPayload(t *testing.T) {
	assert.Equal(t, "abcd", PadPayload("abcd", 4))
	assert.Equal(t, "abcde===", PadPayload("abcde", 4))
	assert.Equal(t, "AACAPwAAAEAAAEBA", PadPayload("AACAPwAAAEAAAEBA", 4))
	assert.Equal(t, "ab========", PadPayload("ab", 10))
}

func TestAwaitResponseExact(t *testing.T) {
	src := &scriptedDevice{lines: []string{"", "boot\r\n", ">", "> ", "never read"}}
	line, err := AwaitResponseExact(context.Background(), io.Discard, src, "> ")
	require.NoError(t, err)
	assert.Equal(t, "> ", line)
	assert.Equal(t, []string{"never read"}, src.lines)
}

func TestAwaitResponseContains(t *testing.T) {
	src := &scriptedDevice{lines: []string{"working\r\n", "chunk OK 12\r\n"}}
	line, err := AwaitResponse(context.Background(), io.Discard, src, "OK")
	require.NoError(t, err)
	assert.Equal(t, "chunk OK 12\r\n", line)
}

func TestAwaitStopsOnTimeoutLine(t *testing.T) {
	src := &scriptedDevice{lines: []string{"noise\r\n", TimeoutLine, "OK\r\n"}}
	line, err := AwaitResponse(context.Background(), io.Discard, src, "OK")
	require.NoError(t, err)
	assert.Equal(t, TimeoutLine, line)

	src = &scriptedDevice{lines: []string{TimeoutLine}}
	line, err = AwaitResponseExact(context.Background(), io.Discard, src, EndOutputLine)
	require.NoError(t, err)
	assert.Equal(t, TimeoutLine, line)
}

func TestAwaitReadError(t *testing.T) {
	src := &scriptedDevice{}
	_, err := AwaitResponse(context.Background(), io.Discard, src, "OK")
	assert.ErrorIs(t, err, io.EOF)
}

func TestAwaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &idleSource{}
	_, err := AwaitResponse(ctx, io.Discard, src, "OK")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, src.reads)
}

func TestAwaitDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := AwaitResponse(ctx, io.Discard, &idleSource{}, "OK")
	assert.ErrorIs(t, err, ErrResponseTimeout)
}

func TestEncodeAndSend(t *testing.T) {
	var log, wire bytes.Buffer
	require.NoError(t, EncodeAndSend(&log, &wire, "AT\r"))
	assert.Equal(t, "AT\r", wire.String())
	assert.Equal(t, "Sent: \"AT\\r\" Size: 3\n", log.String())
}

func TestRunStaticCommand(t *testing.T) {
	assert.Equal(t, "AT+RUNIMPULSESTATIC=n,4\r", RunStaticCommand(4))
}

func TestSessionRun(t *testing.T) {
	// Base64 of the four floats 1, 2, 3, 4.
	payload := "AACAPwAAAEAAAEBAAACAQA=="
	dev := &scriptedDevice{lines: []string{
		"> ",
		"OK 16\r\n",
		"OK\r\n",
		"OK\r\n",
		"Predictions:\r\n",
		EndOutputLine,
	}}

	var progress []int
	opts := testOptions(io.Discard)
	opts.OnProgress = func(sent, total int) {
		assert.Equal(t, 32, total)
		progress = append(progress, sent)
	}

	res, err := NewSession(dev, payload, 4, opts).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"AT\r",
		"AT+RUNIMPULSESTATIC=n,4\r",
		"AACAPwAAAEAAAEBA",
		"AACAQA==========",
	}, dev.written)
	assert.Equal(t, []int{16, 32}, progress)
	assert.Equal(t, 1, dev.closed)
	assert.Equal(t, Result{
		ChunkSize:     16,
		PayloadLength: 24,
		PaddedLength:  32,
		ChunksSent:    2,
		LastLine:      EndOutputLine,
	}, res)
	assert.Equal(t, 2, res.Chunks())
}

func TestSessionRunNoPadding(t *testing.T) {
	payload := "AACAPwAAAEAAAEBAAACAQA=="
	dev := &scriptedDevice{lines: []string{"> ", "OK 4\r\n"}}
	for i := 0; i < 6; i++ {
		dev.lines = append(dev.lines, "OK\r\n")
	}
	dev.lines = append(dev.lines, EndOutputLine)

	var log bytes.Buffer
	res, err := NewSession(dev, payload, 4, testOptions(&log)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 24, res.PaddedLength)
	assert.Equal(t, 6, res.ChunksSent)
	assert.Equal(t, payload, strings.Join(dev.written[2:], ""))
	assert.NotContains(t, log.String(), "padding")
	assert.Contains(t, log.String(), "Chunk size is 4\n")
}

func TestSessionRunTimeoutOnThirdChunk(t *testing.T) {
	payload := "AACAPwAAAEAAAEBAAACAQA=="
	dev := &scriptedDevice{lines: []string{
		"> ",
		"OK 4\r\n",
		"OK\r\n",
		"OK\r\n",
		TimeoutLine,
		"OK\r\n",
		EndOutputLine,
	}}

	var log bytes.Buffer
	res, err := NewSession(dev, payload, 4, testOptions(&log)).Run(context.Background())
	assert.ErrorIs(t, err, ErrDeviceTimeout)
	assert.Equal(t, 3, res.ChunksSent)
	assert.Len(t, dev.written, 5)
	assert.Equal(t, 1, dev.closed)
	assert.Equal(t, TimeoutLine, res.LastLine)
	assert.Contains(t, log.String(), "Data send time out. Terminating...")
}

func TestSessionRunTimeoutDuringHandshake(t *testing.T) {
	dev := &scriptedDevice{lines: []string{TimeoutLine}}
	_, err := NewSession(dev, "AAAA", 1, testOptions(io.Discard)).Run(context.Background())
	assert.ErrorIs(t, err, ErrDeviceTimeout)
	assert.Equal(t, []string{"AT\r"}, dev.written)
	assert.Equal(t, 1, dev.closed)
}

func TestSessionRunMissingChunkSize(t *testing.T) {
	dev := &scriptedDevice{lines: []string{"> ", "OK\r\n"}}
	_, err := NewSession(dev, "AAAA", 1, testOptions(io.Discard)).Run(context.Background())
	assert.ErrorIs(t, err, ErrNoChunkSize)
	assert.Equal(t, 1, dev.closed)
}

type silentDevice struct {
	idleSource
	closed bool
}

func (d *silentDevice) Write(p []byte) (int, error) { return len(p), nil }
func (d *silentDevice) Close() error                { d.closed = true; return nil }

func TestSessionRunResponseTimeout(t *testing.T) {
	dev := &silentDevice{}
	opts := testOptions(io.Discard)
	opts.ResponseTimeout = 10 * time.Millisecond
	_, err := NewSession(dev, "AAAA", 1, opts).Run(context.Background())
	assert.ErrorIs(t, err, ErrResponseTimeout)
	assert.True(t, dev.closed)
}

type failingWriter struct{ scriptedDevice }

func (d *failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("port gone")
}

func TestSessionRunWriteError(t *testing.T) {
	dev := &failingWriter{}
	_, err := NewSession(dev, "AAAA", 1, testOptions(io.Discard)).Run(context.Background())
	assert.ErrorContains(t, err, "port gone")
	assert.Equal(t, 1, dev.closed)
}

// timedDevice is a scriptedDevice that records when each write happened.
type timedDevice struct {
	scriptedDevice
	writes []time.Time
}

func (d *timedDevice) Write(p []byte) (int, error) {
	d.writes = append(d.writes, time.Now())
	return d.scriptedDevice.Write(p)
}

func TestSessionRunPacing(t *testing.T) {
	const (
		settle     = 30 * time.Millisecond
		chunkDelay = 10 * time.Millisecond
		simulated  = 40 * time.Millisecond
	)
	dev := &timedDevice{scriptedDevice: scriptedDevice{lines: []string{
		"> ",
		"OK 8\r\n",
		"OK\r\n",
		"OK\r\n",
		"OK\r\n",
		EndOutputLine,
	}}}

	opts := testOptions(io.Discard)
	opts.Settle = settle
	opts.ChunkDelay = chunkDelay
	opts.SimulateTimeout = true
	opts.SimulatedDelay = simulated

	start := time.Now()
	res, err := NewSession(dev, "AACAPwAAAEAAAEBAAACAQA==", 4, opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.ChunksSent)
	require.Len(t, dev.writes, 5)

	assert.GreaterOrEqual(t, dev.writes[0].Sub(start), settle)
	// Writes 2..4 are the chunks.
	for i := 3; i < len(dev.writes); i++ {
		assert.GreaterOrEqual(t, dev.writes[i].Sub(dev.writes[i-1]), chunkDelay+simulated, "chunk %d", i-2)
	}
}

func TestSessionRunPacingWithoutSimulation(t *testing.T) {
	dev := &timedDevice{scriptedDevice: scriptedDevice{lines: []string{
		"> ", "OK 12\r\n", "OK\r\n", "OK\r\n", EndOutputLine,
	}}}

	opts := testOptions(io.Discard)
	opts.ChunkDelay = 10 * time.Millisecond
	opts.SimulatedDelay = time.Hour

	_, err := NewSession(dev, "AACAPwAAAEAAAEBAAACAQA==", 4, opts).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, dev.writes, 4)
	assert.GreaterOrEqual(t, dev.writes[3].Sub(dev.writes[2]), opts.ChunkDelay)
}

func TestSessionRunTimeoutSkipsSimulatedDelay(t *testing.T) {
	dev := &scriptedDevice{lines: []string{"> ", "OK 4\r\n", TimeoutLine}}

	opts := testOptions(io.Discard)
	opts.SimulateTimeout = true
	opts.SimulatedDelay = time.Hour

	start := time.Now()
	res, err := NewSession(dev, "AACAPwAAAEAAAEBAAACAQA==", 4, opts).Run(context.Background())
	assert.ErrorIs(t, err, ErrDeviceTimeout)
	assert.Less(t, time.Since(start), time.Minute)
	assert.Equal(t, 1, res.ChunksSent)
	assert.Equal(t, 1, dev.closed)
}

func TestSessionRunTimeoutAwaitingEndOutput(t *testing.T) {
	dev := &scriptedDevice{lines: []string{"> ", "OK 24\r\n", "OK\r\n", TimeoutLine}}
	res, err := NewSession(dev, "AACAPwAAAEAAAEBAAACAQA==", 4, testOptions(io.Discard)).Run(context.Background())
	assert.ErrorIs(t, err, ErrDeviceTimeout)
	assert.Equal(t, 1, res.ChunksSent)
	assert.Equal(t, 1, dev.closed)
}
