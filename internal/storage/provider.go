// Package storage defines a root-confined file-system abstraction used for
// template libraries and exported run artifacts.
package storage

import "time"

// FileMeta describes one file under the provider root.
type FileMeta struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for root-relative file operations.
type Provider interface {
	// Root returns the absolute root directory.
	Root() string
	// Rel converts an absolute path under the root to a slash-separated
	// root-relative one.
	Rel(abs string) (string, error)
	// List returns metadata for every file under dir whose name ends with
	// one of exts (all files when exts is empty).
	List(dir string, exts ...string) ([]FileMeta, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
}
