// Package blobstore stores the binary content of skin images. Metadata lives
// in the clinic schema; this package only knows keys and bytes.
package blobstore

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrEmptyFile          = errors.New("file is empty")
)

// DefaultMaxSize applies when a store is built with a non-positive limit.
const DefaultMaxSize = 10 * 1024 * 1024

// AllowedContentTypes lists the image formats accepted for skin photos.
var AllowedContentTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

// Metadata describes a stored blob.
type Metadata struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is implemented by every storage backend.
type Store interface {
	// Put stores content under a new key beginning with prefix.
	Put(ctx context.Context, prefix string, content io.Reader) (*Metadata, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Metadata, error)
	Delete(ctx context.Context, key string) error
}

// readImage reads at most max bytes and sniffs the content type from the data
// itself rather than trusting the client header.
func readImage(content io.Reader, max int64) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(content, max+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading content: %w", err)
	}
	if len(data) == 0 {
		return nil, "", ErrEmptyFile
	}
	if int64(len(data)) > max {
		return nil, "", ErrFileTooLarge
	}
	ct := http.DetectContentType(data)
	if _, ok := AllowedContentTypes[ct]; !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrInvalidContentType, ct)
	}
	return data, ct, nil
}

func newMetadata(prefix string, data []byte, contentType string) Metadata {
	return Metadata{
		Key:         path.Join(strings.Trim(prefix, "/"), uuid.NewString()+AllowedContentTypes[contentType]),
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        fmt.Sprintf("%x", sha256.Sum256(data)),
		CreatedAt:   time.Now().UTC(),
	}
}

func contentTypeOf(key string) string {
	ext := path.Ext(key)
	for ct, e := range AllowedContentTypes {
		if e == ext {
			return ct
		}
	}
	return "application/octet-stream"
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

type storedBlob struct {
	metadata Metadata
	content  []byte
}

// MemoryStore keeps blobs in memory. Used in development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string]*storedBlob
	maxSize int64
}

func NewMemoryStore(maxSize int64) *MemoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &MemoryStore{blobs: make(map[string]*storedBlob), maxSize: maxSize}
}

func (s *MemoryStore) Put(_ context.Context, prefix string, content io.Reader) (*Metadata, error) {
	data, ct, err := readImage(content, s.maxSize)
	if err != nil {
		return nil, err
	}
	meta := newMetadata(prefix, data, ct)

	s.mu.Lock()
	s.blobs[meta.Key] = &storedBlob{metadata: meta, content: data}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, *Metadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := blob.metadata
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// ---------------------------------------------------------------------------
// Directory implementation
// ---------------------------------------------------------------------------

// DirStore writes blobs below a root directory, one file per key.
type DirStore struct {
	root    string
	maxSize int64
}

func NewDirStore(root string, maxSize int64) (*DirStore, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("creating image store dir: %w", err)
	}
	return &DirStore{root: root, maxSize: maxSize}, nil
}

// resolve maps a key to a path inside root and refuses anything that escapes it.
func (s *DirStore) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", ErrBlobNotFound
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *DirStore) Put(_ context.Context, prefix string, content io.Reader) (*Metadata, error) {
	data, ct, err := readImage(content, s.maxSize)
	if err != nil {
		return nil, err
	}
	meta := newMetadata(prefix, data, ct)

	p, err := s.resolve(meta.Key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return nil, fmt.Errorf("creating blob dir: %w", err)
	}

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return nil, fmt.Errorf("writing blob: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("committing blob: %w", err)
	}
	return &meta, nil
}

func (s *DirStore) Get(_ context.Context, key string) (io.ReadCloser, *Metadata, error) {
	p, err := s.resolve(key)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("opening blob: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat blob: %w", err)
	}
	meta := &Metadata{
		Key:         key,
		ContentType: contentTypeOf(key),
		Size:        info.Size(),
		CreatedAt:   info.ModTime().UTC(),
	}
	return readCloser{Reader: bufio.NewReader(f), Closer: f}, meta, nil
}

func (s *DirStore) Delete(_ context.Context, key string) error {
	p, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("deleting blob: %w", err)
	}
	return nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

// Stream writes the blob stored under key as the response body.
func Stream(c echo.Context, store Store, key string) error {
	rc, meta, err := store.Get(c.Request().Context(), key)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return err
	}
	defer rc.Close()

	c.Response().Header().Set("Cache-Control", "private, max-age=3600")
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, path.Base(meta.Key)))
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

// HTTPError maps store errors to the status a client should see. Other errors
// are returned unchanged.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, ErrEmptyFile):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrBlobNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return err
}
