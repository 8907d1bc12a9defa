// Package report renders sweep reports as YAML, JSON or text.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"stackshield-go/types"
)

type Format string

const (
	YAML Format = "yaml"
	JSON Format = "json"
	Text Format = "text"
)

// FormatFor picks a format from a file extension; unknown extensions are text.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML
	case ".json":
		return JSON
	default:
		return Text
	}
}

// Write renders reps to w.
func Write(w io.Writer, f Format, reps ...types.SweepReport) error {
	switch f {
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(reps); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		return enc.Close()
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reps)
	default:
		for _, r := range reps {
			if err := writeText(w, r); err != nil {
				return err
			}
		}
		return nil
	}
}

// WriteFile renders reps to path in the format its extension names.
func WriteFile(path string, reps ...types.SweepReport) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, FormatFor(path), reps...); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Read decodes a YAML or JSON report file.
func Read(r io.Reader) ([]types.SweepReport, error) {
	var reps []types.SweepReport
	if err := yaml.NewDecoder(r).Decode(&reps); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return reps, nil
}

func writeText(w io.Writer, r types.SweepReport) error {
	verdict := "PASS"
	if !r.OK() {
		verdict = "FAIL"
	}
	if _, err := fmt.Fprintf(w, "tss %d: %s (%d passed, %d failed, policy %s)\n",
		r.Position, verdict, r.Passed, r.Failed, r.Policy); err != nil {
		return err
	}
	for _, p := range r.Pairs {
		if p.Passed {
			continue
		}
		for _, f := range p.Failures {
			line := fmt.Sprintf("  target %d channel %d: %s", p.Target, p.Channel, f.Step)
			if f.Want != nil && f.Got != nil {
				line += fmt.Sprintf(": want %v got %v", *f.Want, *f.Got)
			} else if f.Error != "" {
				line += ": " + f.Error
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	if r.Aborted {
		if _, err := fmt.Fprintln(w, "  sweep aborted"); err != nil {
			return err
		}
	}
	if r.Error != "" && r.Failed == 0 {
		_, err := fmt.Fprintln(w, "  error: "+r.Error)
		return err
	}
	return nil
}
