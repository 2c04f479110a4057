package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mikeboe/deep-search/pkg/research"
)

// loadCheckpoint reads a checkpoint file. A missing file is not an error.
func loadCheckpoint(path string) (research.Checkpoint, bool, error) {
	var cp research.Checkpoint
	if path == "" {
		return cp, false, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cp, false, nil
	}
	if err != nil {
		return cp, false, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		return cp, false, fmt.Errorf("failed to parse checkpoint %s: %w", path, err)
	}
	return cp, true, nil
}

// saveCheckpoint replaces path atomically.
func saveCheckpoint(path string, cp research.Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// clearCheckpoint removes the file of a finished run so the next invocation
// starts a new one.
func clearCheckpoint(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
