// Package palfile writes pal event files.
package palfile

import (
	"bufio"
	"errors"
	"iter"
	"os"
	"path/filepath"
)

// Write replaces the file at path with header followed by every line of
// lines. The content goes to a temporary file in the same directory that is
// renamed over path only after all lines were written, so an error from
// lines leaves any previous file untouched. It returns the number of lines
// written after the header.
func Write(path, header string, lines iter.Seq2[string, error]) (int, error) {
	if path == "" {
		return 0, errors.New("pal file path is empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(dir, ".caldav2pal-*.tmp")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	n, err := writeLines(tmp, header, lines)
	if err != nil {
		tmp.Close()
		return 0, err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, err
	}
	return n, nil
}

func writeLines(f *os.File, header string, lines iter.Seq2[string, error]) (int, error) {
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(header + "\n"); err != nil {
		return 0, err
	}
	n := 0
	for line, err := range lines {
		if err != nil {
			return n, err
		}
		if _, err := w.WriteString(line + "\n"); err != nil {
			return n, err
		}
		n++
	}
	return n, w.Flush()
}
