// Copyright (C) 2024 Toitware ApS. All rights reserved.
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

// Package features reads feature vectors from text files and turns them into
// the base64 payload the device expects.
package features

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Format selects how the values of a feature file are interpreted.
type Format string

const (
	// FormatAuto picks FormatHex for paths containing "image", FormatFloat otherwise.
	FormatAuto Format = "auto"
	// FormatFloat reads decimal float literals.
	FormatFloat Format = "float"
	// FormatHex reads hexadecimal integers, such as raw RGB pixels.
	FormatHex Format = "hex"
)

// BytesPerValue is the size of a packed value on the wire.
const BytesPerValue = 4

func Formats() []string {
	return []string{string(FormatAuto), string(FormatFloat), string(FormatHex)}
}

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatAuto, FormatFloat, FormatHex:
		return f, nil
	case "":
		return FormatAuto, nil
	default:
		return "", fmt.Errorf("unknown format '%s', must be one of %s", s, strings.Join(Formats(), ", "))
	}
}

// Resolve turns FormatAuto into a concrete format for the given path.
func (f Format) Resolve(path string) Format {
	if f != FormatAuto && f != "" {
		return f
	}
	if strings.Contains(path, "image") {
		return FormatHex
	}
	return FormatFloat
}

// Vector is an ordered sequence of feature values.
type Vector []float64

// ReadFile parses the comma separated values in path.
func ReadFile(path string, format Format) (Vector, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	v, err := Parse(string(b), format.Resolve(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse '%s': %w", path, err)
	}
	return v, nil
}

// Parse parses comma separated values. FormatAuto is treated as FormatFloat,
// since there is no path to look at.
func Parse(data string, format Format) (Vector, error) {
	fields := strings.Split(data, ",")
	res := make(Vector, 0, len(fields))
	for i, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			return nil, fmt.Errorf("value %d is empty", i+1)
		}
		var value float64
		var err error
		if format == FormatHex {
			value, err = parseHex(field)
		} else {
			value, err = strconv.ParseFloat(field, 64)
		}
		if err != nil {
			return nil, fmt.Errorf("value %d ('%s') is invalid: %w", i+1, field, err)
		}
		res = append(res, value)
	}
	return res, nil
}

func parseHex(s string) (float64, error) {
	negative := false
	switch {
	case strings.HasPrefix(s, "-"):
		negative = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, err
	}
	if negative {
		return -float64(n), nil
	}
	return float64(n), nil
}

// Pack lays out the values as little endian float32s.
func (v Vector) Pack() []byte {
	buf := make([]byte, len(v)*BytesPerValue)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*BytesPerValue:], math.Float32bits(float32(f)))
	}
	return buf
}

// Unpack is the inverse of Pack.
func Unpack(b []byte) (Vector, error) {
	if len(b)%BytesPerValue != 0 {
		return nil, fmt.Errorf("packed data has %d bytes, not a multiple of %d", len(b), BytesPerValue)
	}
	res := make(Vector, len(b)/BytesPerValue)
	for i := range res {
		res[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[i*BytesPerValue:])))
	}
	return res, nil
}

// Encode returns the base64 wire payload for v.
func Encode(v Vector) string {
	return base64.StdEncoding.EncodeToString(v.Pack())
}

// Decode parses a wire payload. Trailing '=' chunk padding beyond the base64
// padding is tolerated.
func Decode(payload string) (Vector, error) {
	payload = strings.TrimSpace(payload)
	trimmed := strings.TrimRight(payload, "=")
	b, err := base64.RawStdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, err
	}
	return Unpack(b)
}
