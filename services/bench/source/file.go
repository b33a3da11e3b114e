// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianBench/services/bench/eval"
	"github.com/AleutianAI/AleutianBench/services/bench/stats"
)

// Format is a recorded-durations file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCSV  Format = "csv"
)

// MaxFileSize is the largest input file accepted (64 MiB).
const MaxFileSize = 64 << 20

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".csv":
		return FormatCSV, true
	default:
		return "", false
	}
}

// Document is the JSON and YAML input layout: operation name to wall
// durations in nanoseconds, with optional per-sample CPU durations.
//
//	operations:
//	  parse: [1200, 1180, 1250]
//	cpu:
//	  parse: [1100, 1090, 1160]
type Document struct {
	Operations map[string][]float64 `json:"operations" yaml:"operations"`
	CPU        map[string][]float64 `json:"cpu,omitempty" yaml:"cpu,omitempty"`
}

// SampleSets converts the document into sets ordered by name.
func (d Document) SampleSets() ([]*stats.SampleSet, error) {
	if len(d.Operations) == 0 {
		return nil, fmt.Errorf("no operations: %w", eval.ErrEmptyInput)
	}
	names := make([]string, 0, len(d.Operations))
	for name := range d.Operations {
		names = append(names, name)
	}
	slices.Sort(names)

	sets := make([]*stats.SampleSet, 0, len(names))
	for _, name := range names {
		wall := d.Operations[name]
		cpu, hasCPU := d.CPU[name]
		if hasCPU && len(cpu) != len(wall) {
			return nil, eval.InvalidConfig("operation %s: %d cpu durations for %d wall durations", name, len(cpu), len(wall))
		}
		set := stats.NewSampleSet(name)
		for i, ns := range wall {
			sample := stats.Sample{WallNs: ns, Iterations: 1}
			if hasCPU {
				sample.CPUNs, sample.HasCPU = cpu[i], true
			}
			if err := checkSample(name, i, sample); err != nil {
				return nil, err
			}
			set.Add(sample)
		}
		if set.Len() == 0 {
			return nil, fmt.Errorf("operation %s: %w", name, eval.ErrEmptyInput)
		}
		sets = append(sets, set)
	}
	return sets, nil
}

func checkSample(name string, i int, s stats.Sample) error {
	for _, v := range []float64{s.WallNs, s.CPUNs} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return eval.InvalidConfig("operation %s: invalid duration %v at index %d", name, v, i)
		}
	}
	return nil
}

// Decode reads sample sets from r in the given format.
//
// Description:
//
//	JSON and YAML inputs follow Document. CSV input needs a header with
//	an "operation" column and a wall-time column named "wall_ns", "ns"
//	or "duration_ns"; an optional "cpu_ns" column supplies CPU time.
//	Rows of one operation keep their file order.
//
// Outputs:
//   - []*stats.SampleSet: Sets ordered by name.
//   - error: ErrEmptyInput or ErrInvalidConfiguration for malformed data.
func Decode(r io.Reader, format Format) ([]*stats.SampleSet, error) {
	switch format {
	case FormatJSON:
		var doc Document
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, eval.InvalidConfig("decoding json: %v", err)
		}
		return doc.SampleSets()
	case FormatYAML:
		var doc Document
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("empty yaml: %w", eval.ErrEmptyInput)
			}
			return nil, eval.InvalidConfig("decoding yaml: %v", err)
		}
		return doc.SampleSets()
	case FormatCSV:
		return decodeCSV(r)
	default:
		return nil, eval.InvalidConfig("unknown format %q", format)
	}
}

func decodeCSV(r io.Reader) ([]*stats.SampleSet, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty csv: %w", eval.ErrEmptyInput)
	}
	if err != nil {
		return nil, eval.InvalidConfig("reading csv header: %v", err)
	}

	opCol, wallCol, cpuCol := -1, -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "operation", "name":
			opCol = i
		case "wall_ns", "ns", "duration_ns":
			wallCol = i
		case "cpu_ns":
			cpuCol = i
		}
	}
	if opCol < 0 || wallCol < 0 {
		return nil, eval.InvalidConfig("csv header %v needs an operation and a wall_ns column", header)
	}

	doc := Document{Operations: make(map[string][]float64)}
	if cpuCol >= 0 {
		doc.CPU = make(map[string][]float64)
	}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, eval.InvalidConfig("reading csv: %v", err)
		}
		name := strings.TrimSpace(record[opCol])
		if name == "" {
			return nil, eval.InvalidConfig("csv line %d: empty operation name", line)
		}
		wall, err := strconv.ParseFloat(strings.TrimSpace(record[wallCol]), 64)
		if err != nil {
			return nil, eval.InvalidConfig("csv line %d: %v", line, err)
		}
		doc.Operations[name] = append(doc.Operations[name], wall)
		if cpuCol >= 0 {
			cpu, err := strconv.ParseFloat(strings.TrimSpace(record[cpuCol]), 64)
			if err != nil {
				return nil, eval.InvalidConfig("csv line %d: %v", line, err)
			}
			doc.CPU[name] = append(doc.CPU[name], cpu)
		}
	}
	return doc.SampleSets()
}

// -----------------------------------------------------------------------------
// FileSource
// -----------------------------------------------------------------------------

// FileSource reads recorded durations from a file.
//
// Thread Safety: Safe for concurrent use.
type FileSource struct {
	path   string
	format Format
}

// NewFileSource creates a source for path. An empty format is inferred
// from the extension.
func NewFileSource(path string, format Format) *FileSource {
	if format == "" {
		format, _ = FormatFromPath(path)
	}
	return &FileSource{path: path, format: format}
}

// Name implements Source.
func (f *FileSource) Name() string { return "file:" + f.path }

// Path returns the file path.
func (f *FileSource) Path() string { return f.path }

// IsAvailable implements Source.
func (f *FileSource) IsAvailable() bool { return f.Check() == nil }

// Check implements Source.
func (f *FileSource) Check() error {
	if f.format == "" {
		return &Unavailable{Source: f.Name(), Reason: "unknown file format"}
	}
	info, err := os.Stat(f.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return &Unavailable{Source: f.Name(), Reason: "file does not exist"}
	case err != nil:
		return &Unavailable{Source: f.Name(), Reason: err.Error()}
	case info.IsDir():
		return &Unavailable{Source: f.Name(), Reason: "path is a directory"}
	case info.Size() > MaxFileSize:
		return &Unavailable{Source: f.Name(), Reason: fmt.Sprintf("file exceeds %d bytes", MaxFileSize)}
	}
	return nil
}

// Collect implements Source.
func (f *FileSource) Collect(ctx context.Context) ([]*stats.SampleSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.Check(); err != nil {
		return nil, err
	}
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", f.path, err)
	}
	defer file.Close()
	return Decode(io.LimitReader(file, MaxFileSize), f.format)
}

var _ Source = (*FileSource)(nil)
