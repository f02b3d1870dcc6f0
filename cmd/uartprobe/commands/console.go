// Copyright (C) 2024 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/cheggaaa/pb/v3"
	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	successColor = color.New(color.FgGreen)
)

// PrintError reports err the way all commands do.
func PrintError(w io.Writer, err error) {
	errorColor.Fprint(w, "Error: ")
	fmt.Fprintln(w, err)
}

func printSuccess(w io.Writer, format string, args ...interface{}) {
	successColor.Fprintf(w, format, args...)
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// newChunkProgress returns a progress callback for a transfer, and a function
// to stop the bar.
func newChunkProgress() (func(sent int, total int), func()) {
	var bar *pb.ProgressBar
	update := func(sent int, total int) {
		if bar == nil {
			bar = pb.Full.Start(total)
			bar.Set(pb.Bytes, true)
		}
		bar.SetCurrent(int64(sent))
	}
	stop := func() {
		if bar != nil {
			bar.Finish()
		}
	}
	return update, stop
}
