// Package filestore keeps uploaded files on local disk.
//
// Files are stored flat under a single directory, named
// "<resource-id>_<filename>" so a resource id alone is enough to find a
// file again. The cleanup executor walks the same directory by
// modification time.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no stored file matches a resource id.
var ErrNotFound = errors.New("file not found")

// MaxUploadSize is the largest accepted upload.
const MaxUploadSize = 10 << 20 // 10 MiB

// StoredFile describes one file on disk.
type StoredFile struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// Local is a local-disk file store.
type Local struct {
	dir string
}

// NewLocal creates the storage directory if needed and returns a store
// rooted there.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Dir returns the storage root.
func (l *Local) Dir() string {
	return l.dir
}

// Store writes the reader's contents to disk and returns the new resource id.
func (l *Local) Store(ownerID uuid.UUID, filename string, r io.Reader) (uuid.UUID, error) {
	resourceID := uuid.New()
	path := filepath.Join(l.dir, resourceID.String()+"_"+sanitize(filename))

	f, err := os.Create(path)
	if err != nil {
		return uuid.Nil, fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, io.LimitReader(r, MaxUploadSize+1)); err != nil {
		os.Remove(path)
		return uuid.Nil, fmt.Errorf("write file: %w", err)
	}

	info, err := f.Stat()
	if err == nil && info.Size() > MaxUploadSize {
		os.Remove(path)
		return uuid.Nil, fmt.Errorf("file exceeds %d bytes", MaxUploadSize)
	}

	return resourceID, nil
}

// Read returns the contents of the file identified by resourceID.
func (l *Local) Read(resourceID uuid.UUID) ([]byte, error) {
	path, err := l.find(resourceID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// Delete removes the file identified by resourceID.
func (l *Local) Delete(resourceID uuid.UUID) error {
	path, err := l.find(resourceID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// ListFiles returns every stored file with its modification time.
// Subdirectories are skipped.
func (l *Local) ListFiles() ([]StoredFile, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read storage dir: %w", err)
	}

	files := make([]StoredFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, StoredFile{
			Path:    filepath.Join(l.dir, entry.Name()),
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return files, nil
}

// Remove deletes a file by absolute path, as returned from ListFiles.
func (l *Local) Remove(path string) error {
	return os.Remove(path)
}

func (l *Local) find(resourceID uuid.UUID) (string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return "", fmt.Errorf("read storage dir: %w", err)
	}
	prefix := resourceID.String() + "_"
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			return filepath.Join(l.dir, entry.Name()), nil
		}
	}
	return "", ErrNotFound
}

// sanitize strips path separators and other hostile characters from an
// uploaded filename.
func sanitize(name string) string {
	// Base("") and Base("/") both come back as "." or "/", neither of
	// which is a usable filename.
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		return "upload"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "upload"
	}
	return b.String()
}
