package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FilePerms restricts the state file to owner-only read/write. It holds
// bearer credentials.
const FilePerms = 0o600

// DirPerms is used when creating the state directory.
const DirPerms = 0o700

// File keeps every key in one JSON document on disk. The whole document is
// re-read on each Get so a second process (the renewal daemon) sees writes
// made by another (a CLI command) without coordination.
type File struct {
	mu   sync.Mutex
	path string
}

// fileDoc is the on-disk format. Values are base64-encoded by encoding/json.
type fileDoc struct {
	Values map[string][]byte `json:"values"`
}

// NewFile returns a file backend rooted at path. The file and its directory
// are created on first write.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

func (f *File) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return nil, false, err
	}

	v, ok := doc.Values[key]

	return v, ok, nil
}

func (f *File) Set(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}

	doc.Values[key] = append([]byte(nil), value...)

	return f.write(doc)
}

func (f *File) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}

	if _, ok := doc.Values[key]; !ok {
		return nil
	}

	delete(doc.Values, key)

	return f.write(doc)
}

// Close is a no-op; the file is not held open between calls.
func (f *File) Close() error {
	return nil
}

// read loads the document. A missing file is an empty document.
func (f *File) read() (*fileDoc, error) {
	doc := &fileDoc{Values: make(map[string][]byte)}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}

	if err != nil {
		return nil, fmt.Errorf("kvstore: reading %s: %w", f.path, err)
	}

	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("kvstore: decoding %s: %w", f.path, err)
	}

	if doc.Values == nil {
		doc.Values = make(map[string][]byte)
	}

	return doc, nil
}

// write replaces the file atomically (write-to-temp + rename) with 0600
// permissions.
func (f *File) write(doc *fileDoc) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("kvstore: encoding: %w", err)
	}

	dir := filepath.Dir(f.path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("kvstore: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("kvstore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("kvstore: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("kvstore: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("kvstore: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("kvstore: closing: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("kvstore: renaming: %w", err)
	}

	success = true

	return nil
}
