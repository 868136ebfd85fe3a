// Package storage keeps uploaded blobs (post covers) on local disk and
// builds their public URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrInvalidKey = errors.New("invalid storage key")

// Store writes and deletes blobs by relative key.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// Disk stores blobs under a root directory.
type Disk struct {
	root    string
	baseURL string
}

// NewDisk creates root if needed. baseURL is the public prefix the blobs are
// served under, e.g. "http://localhost:8080/storage".
func NewDisk(root, baseURL string) (*Disk, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Disk{root: filepath.Clean(root), baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// resolve maps key to a path inside root, refusing anything that escapes it.
func (d *Disk) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || clean != "/"+key {
		return "", ErrInvalidKey
	}
	return filepath.Join(d.root, filepath.FromSlash(clean)), nil
}

// Put writes r to key through a temp file so readers never see a partial blob.
func (d *Disk) Put(ctx context.Context, key string, r io.Reader) error {
	dst, err := d.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close blob: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// Delete removes key. A missing blob is not an error.
func (d *Disk) Delete(ctx context.Context, key string) error {
	dst, err := d.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (d *Disk) URL(key string) string {
	if key == "" {
		return ""
	}
	return d.baseURL + "/" + key
}

// Exists reports whether key is present on disk.
func (d *Disk) Exists(key string) bool {
	dst, err := d.resolve(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(dst)
	return err == nil
}

// Handler serves blobs read-only. Mount it with the public prefix stripped.
func (d *Disk) Handler() http.Handler {
	return http.FileServer(noDirFS{http.Dir(d.root)})
}

// noDirFS hides directory listings.
type noDirFS struct {
	fs http.FileSystem
}

func (n noDirFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	if st, err := f.Stat(); err == nil && st.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
