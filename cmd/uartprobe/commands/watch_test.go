package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lockedBuffer struct {
	sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.Lock()
	defer b.Unlock()
	return b.buf.Write(p)
}

func TestWatcherMatches(t *testing.T) {
	dataFile := writeDataFile(t, "accel.txt", "1")
	w, err := newWatcher(dataFile)
	require.NoError(t, err)
	defer w.Close()

	other := filepath.Join(filepath.Dir(w.path), "other.txt")
	assert.True(t, w.Matches(fsnotify.Event{Name: w.path, Op: fsnotify.Write}))
	assert.True(t, w.Matches(fsnotify.Event{Name: w.path, Op: fsnotify.Create}))
	assert.False(t, w.Matches(fsnotify.Event{Name: w.path, Op: fsnotify.Chmod}))
	assert.False(t, w.Matches(fsnotify.Event{Name: other, Op: fsnotify.Write}))
}

func TestOnWatchChanges(t *testing.T) {
	dataFile := writeDataFile(t, "accel.txt", "1")
	w, err := newWatcher(dataFile)
	require.NoError(t, err)
	defer w.Close()

	runs := make(chan struct{}, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- onWatchChanges(ctx, &lockedBuffer{}, w, func(context.Context) {
			runs <- struct{}{}
		})
	}()

	select {
	case <-runs:
	case <-time.After(5 * time.Second):
		t.Fatal("initial run didn't happen")
	}

	require.NoError(t, os.WriteFile(dataFile, []byte("1,2"), 0644))
	select {
	case <-runs:
	case <-time.After(5 * time.Second):
		t.Fatal("no run after the file changed")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch didn't stop")
	}
}
