// Package uploads keeps message attachments on local disk and hands out
// their public URLs.
package uploads

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const (
	// URLPrefix is where the API serves the upload directory.
	URLPrefix = "/storage"
	subdir    = "attachments"
)

type Store struct {
	Dir       string
	PublicURL string
}

func New(dir, publicURL string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, subdir), 0o755); err != nil {
		return nil, fmt.Errorf("uploads: %w", err)
	}
	return &Store{Dir: dir, PublicURL: strings.TrimRight(publicURL, "/")}, nil
}

// Save writes fh under attachments/<uuid><ext> and returns its public URL.
// The extension comes from the content, not the client's file name.
func (s *Store) Save(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	mt, err := mimetype.DetectReader(src)
	if err != nil {
		return "", err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	name := uuid.NewString() + mt.Extension()
	dst, err := os.Create(filepath.Join(s.Dir, subdir, name))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return s.PublicURL + URLPrefix + "/" + subdir + "/" + name, nil
}

// Delete removes files previously returned by Save. URLs that do not point
// into this store are ignored.
func (s *Store) Delete(urls ...string) {
	prefix := s.PublicURL + URLPrefix + "/" + subdir + "/"
	for _, u := range urls {
		name, ok := strings.CutPrefix(u, prefix)
		if !ok || name == "" || strings.ContainsAny(name, `/\`) {
			continue
		}
		_ = os.Remove(filepath.Join(s.Dir, subdir, name))
	}
}
