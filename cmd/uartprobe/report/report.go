// Copyright (C) 2024 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v2"
)

const (
	OutcomeCompleted     = "completed"
	OutcomeDeviceTimeout = "device-timeout"
	OutcomeFailed        = "failed"
)

// Run summarizes one transfer.
type Run struct {
	ID            string        `yaml:"id" json:"id"`
	ToolVersion   string        `yaml:"toolVersion,omitempty" json:"toolVersion,omitempty"`
	DataFile      string        `yaml:"dataFile" json:"dataFile"`
	Port          string        `yaml:"port" json:"port"`
	Values        int           `yaml:"values" json:"values"`
	PayloadLength int           `yaml:"payloadLength" json:"payloadLength"`
	PaddedLength  int           `yaml:"paddedLength" json:"paddedLength"`
	ChunkSize     int           `yaml:"chunkSize" json:"chunkSize"`
	Chunks        int           `yaml:"chunks" json:"chunks"`
	ChunksSent    int           `yaml:"chunksSent" json:"chunksSent"`
	Outcome       string        `yaml:"outcome" json:"outcome"`
	Error         string        `yaml:"error,omitempty" json:"error,omitempty"`
	Started       time.Time     `yaml:"started" json:"started"`
	Duration      time.Duration `yaml:"duration" json:"duration"`
}

func New(dataFile string, port string) *Run {
	return &Run{
		ID:       uuid.New().String(),
		DataFile: dataFile,
		Port:     port,
		Started:  time.Now(),
	}
}

// Finish records the outcome and the elapsed time.
func (r *Run) Finish(outcome string, err error) {
	r.Outcome = outcome
	if err != nil {
		r.Error = err.Error()
	}
	r.Duration = time.Since(r.Started)
}

// Encode writes the report as YAML, or as JSON when asJSON is set.
func (r *Run) Encode(w io.Writer, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	return yaml.NewEncoder(w).Encode(r)
}

// Write stores the report at path. Files ending in .yaml or .yml get YAML,
// everything else JSON.
func (r *Run) Write(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	asJSON := ext != ".yaml" && ext != ".yml"

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := r.Encode(f, asJSON); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
