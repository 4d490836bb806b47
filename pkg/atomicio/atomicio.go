// Package atomicio provides crash-safe file writes: write to a temp file in
// the same directory, fsync it, then rename over the destination. Every
// durable-state write in this module (cache snapshots, state store, JSONL
// history, metrics, patch audit) goes through these helpers so a process
// crash mid-write never leaves a readable file in an inconsistent state.
package atomicio

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
)

// WriteFile atomically replaces path with data. The temp file lives beside
// path so the final rename is on the same filesystem.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, path)
}

// WriteText is WriteFile for a string payload, matching atomic_write_text.
func WriteText(path string, text string, perm os.FileMode) error {
	return WriteFile(path, []byte(text), perm)
}

// AppendJSONLine appends one JSONL line (rewriting the whole file and
// atomically replacing it), matching atomic_append_jsonl_via_replace: reads
// current content if any, appends line+"\n" ensuring exactly one trailing
// newline, writes atomically.
func AppendJSONLine(path string, line string) error {
	var existing []byte
	if b, err := os.ReadFile(path); err == nil {
		existing = b
	}

	var buf bytes.Buffer
	buf.Write(existing)
	buf.WriteString(strings.TrimRight(line, "\n"))
	buf.WriteString("\n")

	return WriteFile(path, buf.Bytes(), 0o644)
}

// PurgeTemp removes any leftover *.tmp files under dir, matching spec §9's
// "on startup, purge *.tmp leftovers."
func PurgeTemp(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".tmp") {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
	return nil
}
