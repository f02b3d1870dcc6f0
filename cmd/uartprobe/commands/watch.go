// Copyright (C) 2021 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

func WatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "watch <data-file> [serial-port]",
		Short:        "Watch <data-file> for changes and send it to the device every time it is written",
		Args:         cobra.RangeArgs(1, 2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := parseTransferFlags(cmd.Flags())
			if err != nil {
				return err
			}

			dataFile := args[0]
			if stat, err := os.Stat(dataFile); err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf("no such file or directory: '%s'", dataFile)
				}
				return fmt.Errorf("can't stat file '%s', reason: %w", dataFile, err)
			} else if stat.IsDir() {
				return fmt.Errorf("can't watch directory: '%s'", dataFile)
			}

			port := ""
			if len(args) > 1 {
				port = args[1]
			}
			if port, err = CheckPort(port); err != nil {
				return err
			}

			w, err := newWatcher(dataFile)
			if err != nil {
				return err
			}
			defer w.Close()

			out := cmd.OutOrStdout()
			run := func(ctx context.Context) {
				if err := runTransfer(ctx, out, cfg, dataFile, port, openSerialTransport); err != nil {
					PrintError(out, err)
				}
			}
			return onWatchChanges(cmd.Context(), out, w, run)
		},
	}
	addTransferFlags(cmd.Flags())
	return cmd
}

// watcher reports writes to a single file. The parent directory is watched
// so that editors replacing the file are noticed too.
type watcher struct {
	watcher *fsnotify.Watcher
	path    string
}

func newWatcher(path string) (*watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if abs, err = filepath.EvalSymlinks(abs); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}
	return &watcher{
		watcher: w,
		path:    abs,
	}, nil
}

func (w *watcher) Close() error {
	return w.watcher.Close()
}

func (w *watcher) Events() chan fsnotify.Event {
	return w.watcher.Events
}

func (w *watcher) Errors() chan error {
	return w.watcher.Errors
}

// Matches returns whether event is a change to the watched file.
func (w *watcher) Matches(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create) != 0
}

// onWatchChanges runs fn once, and again after every change to the watched
// file. A running transfer is cancelled and waited for before the next one
// starts, since both need the serial port.
func onWatchChanges(ctx context.Context, out io.Writer, w *watcher, fn func(context.Context)) error {
	var cancel context.CancelFunc = func() {}
	done := make(chan struct{})
	close(done)

	start := func() {
		cancel()
		<-done
		var runCtx context.Context
		runCtx, cancel = context.WithCancel(ctx)
		current := make(chan struct{})
		done = current
		go func() {
			defer close(current)
			fn(runCtx)
		}()
	}
	defer func() {
		cancel()
		<-done
	}()

	start()

	fired := false
	tickerDuration := 100 * time.Millisecond
	ticker := time.NewTicker(tickerDuration)
	defer ticker.Stop()
	for {
		select {
		case event, ok := <-w.Events():
			if !ok {
				return nil
			}
			if w.Matches(event) && !fired {
				fmt.Fprintf(out, "File modified '%s'\n", event.Name)
				start()
				fired = true
				ticker.Reset(tickerDuration)
			}
		case <-ticker.C:
			fired = false
		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			fmt.Fprintln(out, "Watch error:", err)
		case <-ctx.Done():
			return nil
		}
	}
}
