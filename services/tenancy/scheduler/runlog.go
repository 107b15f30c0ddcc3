// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

const runLogFileMode = 0600

// RunLog appends one JSON line per scheduler cycle to a dedicated file.
// The compliance record of each action lives in the audit chain; this
// file records when jobs ran and how they ended.
type RunLog struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// OpenRunLog opens path for appending, creating it with mode 0600.
func OpenRunLog(path string) (*RunLog, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, runLogFileMode)
	if err != nil {
		return nil, fmt.Errorf("failed to open scheduler run log: %w", err)
	}
	return &RunLog{file: file, path: path}, nil
}

// Write appends result.
func (l *RunLog) Write(result CycleResult) error {
	line, err := json.Marshal(struct {
		CycleResult
		DurationMs int64 `json:"duration_ms"`
	}{result, result.DurationMs()})
	if err != nil {
		return fmt.Errorf("failed to marshal cycle result: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write cycle result: %w", err)
	}
	return nil
}

// Path returns the file path.
func (l *RunLog) Path() string { return l.path }

// Close closes the file.
func (l *RunLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
