/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package reportstore is the filesystem handoff between daily-runner (one
// process per invocation, cron-friendly) and report-server (a long-lived
// read-only HTTP surface): daily-runner writes a Report as JSON, keyed by
// its StartedAt timestamp so a lexical directory listing is also a
// chronological one; report-server reads it back on request. Neither
// process holds the other's state in memory.
package reportstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jordigilh/ralph-core/pkg/orchestrator"
)

// Save writes report to dir as a single JSON file named so that a
// lexical sort of the directory is newest-last.
func Save(dir string, report orchestrator.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("reportstore: create dir: %w", err)
	}

	name := fmt.Sprintf("%s-%s.json", report.StartedAt.UTC().Format("20060102T150405Z"), report.RunID)
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("reportstore: marshal report: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("reportstore: write %s: %w", path, err)
	}
	return nil
}

// List returns up to limit reports from dir, most recent first. A
// missing directory is treated as an empty history, not an error — a
// fresh deployment has produced no reports yet.
func List(dir string, limit int) ([]orchestrator.Report, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reportstore: read dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	reports := make([]orchestrator.Report, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reportstore: read %s: %w", name, err)
		}
		var report orchestrator.Report
		if err := json.Unmarshal(data, &report); err != nil {
			return nil, fmt.Errorf("reportstore: unmarshal %s: %w", name, err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}
