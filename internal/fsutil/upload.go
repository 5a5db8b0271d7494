// SPDX-License-Identifier: MIT

package fsutil

import (
	"fmt"
	"io"
	"os"

	"github.com/google/renameio/v2"
)

// SaveUpload writes an uploaded file under dir with full durability
// guarantees: fsync before rename, no partially written file ever visible
// at the final path. Returns the absolute confined path.
func SaveUpload(dir, name string, r io.Reader) (string, error) {
	clean, err := SanitizeName(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path, err := Confine(dir, clean)
	if err != nil {
		return "", err
	}

	// renameio handles temp file creation, fsync, atomic rename and
	// cleanup on error.
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return "", fmt.Errorf("create pending upload: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := io.Copy(pending, r); err != nil {
		return "", fmt.Errorf("write upload data: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("atomically replace upload: %w", err)
	}
	return path, nil
}
