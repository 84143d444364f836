// Package fonts keeps font attachments exported from containers in a flat
// directory so subtitle renderers can load them by file name.
package fonts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/zsiec/lumen/internal/media"
)

// Info describes one stored font.
type Info struct {
	Filename string `json:"filename"`
	Hash     string `json:"hash"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// Extractor returns attachment data by index. *matroska.Session
// implements it.
type Extractor interface {
	ExtractAttachment(ctx context.Context, index int) (*media.Attachment, error)
}

// Store is a font directory.
type Store struct {
	dir string
	log *slog.Logger
}

// Open returns the store at dir, creating the directory if needed.
func Open(dir string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if dir == "" {
		return nil, errors.New("fonts: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fonts: create directory: %w", err)
	}
	return &Store{dir: dir, log: log.With("component", "fonts")}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Save writes data under the sanitized filename. An existing file of that
// name is kept and reported with created false.
func (s *Store) Save(filename string, data []byte) (path string, created bool, err error) {
	name := SanitizeFilename(filename)
	path = filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err == nil {
		s.log.Debug("font already stored", "name", name)
		return path, false, nil
	}
	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return "", false, fmt.Errorf("fonts: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", false, fmt.Errorf("fonts: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", false, fmt.Errorf("fonts: write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", false, fmt.Errorf("fonts: %w", err)
	}
	s.log.Info("saved font", "name", name, "bytes", len(data))
	return path, true, nil
}

// Export extracts every font in attachments from x and saves it.
func (s *Store) Export(ctx context.Context, x Extractor, attachments []media.Attachment) ([]Info, error) {
	var out []Info
	var errs []error
	for _, a := range attachments {
		full, err := x.ExtractAttachment(ctx, a.Index)
		if err != nil {
			errs = append(errs, fmt.Errorf("attachment %d: %w", a.Index, err))
			continue
		}
		path, _, err := s.Save(full.Filename, full.Data)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, info(path, int64(len(full.Data))))
	}
	return out, errors.Join(errs...)
}

// List returns the stored fonts sorted by name. Temporary files are
// skipped.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("fonts: %w", err)
	}
	var out []Info
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, info(filepath.Join(s.dir, e.Name()), fi.Size()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

// Stats returns the number and total size of stored fonts.
func (s *Store) Stats() (count int, size int64, err error) {
	fonts, err := s.List()
	if err != nil {
		return 0, 0, err
	}
	for _, f := range fonts {
		size += f.Size
	}
	return len(fonts), size, nil
}

// Clear removes every stored font and keeps the directory.
func (s *Store) Clear() error {
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == s.dir {
			return nil
		}
		if d.IsDir() {
			return filepath.SkipDir
		}
		return os.Remove(path)
	})
	if err != nil {
		return fmt.Errorf("fonts: clear: %w", err)
	}
	return nil
}

func info(path string, size int64) Info {
	name := filepath.Base(path)
	return Info{
		Filename: name,
		Hash:     strconv.FormatUint(xxhash.Sum64String(name), 16),
		Path:     path,
		Size:     size,
	}
}

// SanitizeFilename replaces path separators, characters reserved on
// common filesystems and control characters with underscores.
func SanitizeFilename(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return '_'
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	switch name {
	case "", ".", "..":
		return "font"
	}
	return name
}
