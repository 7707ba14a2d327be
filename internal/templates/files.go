package templates

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/starford/spamm/internal/apperr"
	"github.com/starford/spamm/internal/specio"
	"github.com/starford/spamm/internal/storage"
)

// FileExtensions are the file types accepted into the library. ".txt" files
// are list files; the rest are two-column templates.
var FileExtensions = []string{".dat", ".txt", ".tab", ".asc"}

// StoredFile describes a file written by Put.
type StoredFile struct {
	Path    string
	Size    int64
	Points  int
	Dropped int
}

// CleanPath validates a slash-separated library path: relative, inside the
// root and with one of FileExtensions. Backslashes are treated as separators.
func CleanPath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("path is required: %w", apperr.ErrInvalidConfig)
	}
	cleaned := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	if strings.HasPrefix(cleaned, "/") || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid path %s: %w", name, apperr.ErrInvalidConfig)
	}
	ext := strings.ToLower(path.Ext(cleaned))
	for _, allowed := range FileExtensions {
		if ext == allowed {
			return cleaned, nil
		}
	}
	return "", fmt.Errorf("unsupported file extension %q (allowed: %s): %w",
		ext, strings.Join(FileExtensions, ", "), apperr.ErrInvalidConfig)
}

// Files lists every library file with its checksum.
func (l *Library) Files() ([]storage.FileMeta, error) {
	return l.store.List("", FileExtensions...)
}

// Put validates and writes a library file, then drops cached sets that
// reference it. Template files must parse as two-column data.
func (l *Library) Put(name string, data []byte) (StoredFile, error) {
	rel, err := CleanPath(name)
	if err != nil {
		return StoredFile{}, err
	}

	points := 0
	if strings.ToLower(path.Ext(rel)) != ".txt" {
		res, err := specio.Parse(data)
		if err != nil {
			return StoredFile{}, fmt.Errorf("%s: %v: %w", rel, err, apperr.ErrInvalidConfig)
		}
		tmpl, err := res.Template(path.Base(rel))
		if err != nil {
			return StoredFile{}, fmt.Errorf("%s: %v: %w", rel, err, apperr.ErrInvalidConfig)
		}
		points = len(tmpl.Wavelength)
	}

	if err := l.store.Write(rel, data); err != nil {
		return StoredFile{}, err
	}
	dropped := l.Invalidate(rel)
	l.logger.Info("templates: file stored",
		slog.String("path", rel),
		slog.Int("points", points),
		slog.Int("sets", dropped))
	return StoredFile{Path: rel, Size: int64(len(data)), Points: points, Dropped: dropped}, nil
}

// Remove deletes a library file and drops cached sets that reference it.
func (l *Library) Remove(name string) (int, error) {
	rel, err := CleanPath(name)
	if err != nil {
		return 0, err
	}
	if err := l.store.Delete(rel); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("template file %s: %w", rel, apperr.ErrNotFound)
		}
		return 0, err
	}
	dropped := l.Invalidate(rel)
	l.logger.Info("templates: file removed",
		slog.String("path", rel),
		slog.Int("sets", dropped))
	return dropped, nil
}
