package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

var (
	pngBytes  = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{1}, 32)...)
	webpBytes = []byte("RIFF\x24\x00\x00\x00WEBPVP8 some-frame-data")
)

func stores(t *testing.T, max int64) map[string]Store {
	t.Helper()
	dir, err := NewDirStore(t.TempDir(), max)
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	return map[string]Store{"memory": NewMemoryStore(max), "dir": dir}
}

func TestStore_PutGetDelete(t *testing.T) {
	for name, store := range stores(t, 1024) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			meta, err := store.Put(ctx, "/c1/rec-1/", bytes.NewReader(pngBytes))
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			if !strings.HasPrefix(meta.Key, "c1/rec-1/") || !strings.HasSuffix(meta.Key, ".png") {
				t.Errorf("unexpected key %q", meta.Key)
			}
			if meta.ContentType != "image/png" {
				t.Errorf("expected image/png, got %s", meta.ContentType)
			}
			if meta.Size != int64(len(pngBytes)) {
				t.Errorf("expected size %d, got %d", len(pngBytes), meta.Size)
			}

			rc, got, err := store.Get(ctx, meta.Key)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			data, _ := io.ReadAll(rc)
			rc.Close()
			if !bytes.Equal(data, pngBytes) {
				t.Error("content mismatch")
			}
			if got.ContentType != "image/png" {
				t.Errorf("Get content type %s", got.ContentType)
			}

			if err := store.Delete(ctx, meta.Key); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, _, err := store.Get(ctx, meta.Key); !errors.Is(err, ErrBlobNotFound) {
				t.Errorf("expected ErrBlobNotFound after delete, got %v", err)
			}
			if err := store.Delete(ctx, meta.Key); !errors.Is(err, ErrBlobNotFound) {
				t.Errorf("second delete: expected ErrBlobNotFound, got %v", err)
			}
		})
	}
}

func TestStore_ContentTypes(t *testing.T) {
	cases := []struct {
		name    string
		data    []byte
		wantExt string
		wantErr error
	}{
		{"png", pngBytes, ".png", nil},
		{"jpeg", jpegBytes, ".jpg", nil},
		{"webp", webpBytes, ".webp", nil},
		{"text", []byte("not an image at all"), "", ErrInvalidContentType},
		{"pdf", []byte("%PDF-1.7\n..."), "", ErrInvalidContentType},
		{"empty", nil, "", ErrEmptyFile},
	}
	store := NewMemoryStore(1024)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			meta, err := store.Put(context.Background(), "p", bytes.NewReader(tc.data))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			if !strings.HasSuffix(meta.Key, tc.wantExt) {
				t.Errorf("expected %s key, got %s", tc.wantExt, meta.Key)
			}
		})
	}
}

func TestStore_TooLarge(t *testing.T) {
	for name, store := range stores(t, 16) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Put(context.Background(), "p", bytes.NewReader(pngBytes))
			if !errors.Is(err, ErrFileTooLarge) {
				t.Fatalf("expected ErrFileTooLarge, got %v", err)
			}
		})
	}
}

func TestDirStore_KeysStayInsideRoot(t *testing.T) {
	root := t.TempDir()
	store, err := NewDirStore(filepath.Join(root, "images"), 0)
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "secret.png"), pngBytes, 0o600); err != nil {
		t.Fatal(err)
	}

	if _, _, err := store.Get(context.Background(), "../secret.png"); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound for escaping key, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "secret.png")); err != nil {
		t.Fatalf("file outside root touched: %v", err)
	}
	if err := store.Delete(context.Background(), ""); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("expected ErrBlobNotFound for empty key, got %v", err)
	}
}

func TestMemoryStore_PutIsIsolated(t *testing.T) {
	store := NewMemoryStore(0)
	a, _ := store.Put(context.Background(), "p", bytes.NewReader(pngBytes))
	b, _ := store.Put(context.Background(), "p", bytes.NewReader(pngBytes))
	if a.Key == b.Key {
		t.Fatal("keys must be unique")
	}
	if a.Hash != b.Hash {
		t.Fatal("identical content should hash identically")
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 blobs, got %d", store.Len())
	}
}

func TestStream(t *testing.T) {
	store := NewMemoryStore(0)
	meta, err := store.Put(context.Background(), "c1", bytes.NewReader(jpegBytes))
	if err != nil {
		t.Fatal(err)
	}

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	if err := Stream(c, store, meta.Key); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %s", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), jpegBytes) {
		t.Error("body mismatch")
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	err = Stream(c, store, "c1/missing.jpg")
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 HTTPError, got %v", err)
	}
}

func TestHTTPError(t *testing.T) {
	cases := map[error]int{
		ErrFileTooLarge:       http.StatusRequestEntityTooLarge,
		ErrInvalidContentType: http.StatusUnsupportedMediaType,
		ErrEmptyFile:          http.StatusBadRequest,
		ErrBlobNotFound:       http.StatusNotFound,
	}
	for in, want := range cases {
		var he *echo.HTTPError
		if !errors.As(HTTPError(in), &he) || he.Code != want {
			t.Errorf("%v: expected %d, got %v", in, want, HTTPError(in))
		}
	}

	plain := errors.New("disk on fire")
	if HTTPError(plain) != plain {
		t.Error("unknown errors must pass through")
	}
}
