// Package jsonutils writes pretty-printed JSON files.
package jsonutils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteFile marshals data into pretty JSON and writes it at path, creating missing directories.
// The file is only readable by the owner.
func WriteFile(path string, data any) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}

	return os.WriteFile(path, b, 0o600)
}
