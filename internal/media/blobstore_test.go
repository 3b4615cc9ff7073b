package media

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
	"github.com/kimhsiao/gymnexus/backend/internal/models"
)

func newTestBlobStore(t *testing.T) *BlobStore {
	t.Helper()
	s, err := NewBlobStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("NewBlobStore() error = %v", err)
	}
	return s
}

// =====================================================
// Put / Open
// =====================================================

func TestBlobStore_PutAndOpen(t *testing.T) {
	s := newTestBlobStore(t)
	data := []byte("squat demo frame")

	head := make([]byte, 5)
	hash, size, n, err := s.Put(bytes.NewReader(data), 0, head)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if hash != HashBytes(data) {
		t.Errorf("hash = %s, want %s", hash, HashBytes(data))
	}
	if size != int64(len(data)) {
		t.Errorf("size = %d, want %d", size, len(data))
	}
	if n != 5 || string(head) != "squat" {
		t.Errorf("head = %q (%d), want \"squat\"", head[:n], n)
	}
	if !s.Exists(hash) {
		t.Fatal("blob should exist after Put")
	}

	wantPath := filepath.Join(hash[0:2], hash[2:4], hash)
	if !strings.HasSuffix(s.Path(hash), wantPath) {
		t.Errorf("Path() = %s, want suffix %s", s.Path(hash), wantPath)
	}

	f, err := s.Open(hash)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	got, _ := os.ReadFile(f.Name())
	f.Close()
	if !bytes.Equal(got, data) {
		t.Errorf("content = %q, want %q", got, data)
	}
}

func TestBlobStore_Dedup(t *testing.T) {
	s := newTestBlobStore(t)
	data := []byte("same bytes")

	h1, _, _, err := s.Put(bytes.NewReader(data), 0, nil)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	h2, _, _, err := s.Put(bytes.NewReader(data), 0, nil)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if h1 != h2 {
		t.Errorf("hashes differ: %s vs %s", h1, h2)
	}

	hashes, temps, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(hashes) != 1 || len(temps) != 0 {
		t.Errorf("List() = %v, %v, want one blob and no temps", hashes, temps)
	}
}

func TestBlobStore_PutLimit(t *testing.T) {
	s := newTestBlobStore(t)

	_, _, _, err := s.Put(strings.NewReader("0123456789abc"), 10, nil)
	if !apperrors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("Put() error = %v, want VALIDATION_ERROR", err)
	}
	hashes, temps, _ := s.List()
	if len(hashes) != 0 || len(temps) != 0 {
		t.Errorf("oversized put left files: %v %v", hashes, temps)
	}

	if _, size, _, err := s.Put(strings.NewReader("0123456789"), 10, nil); err != nil || size != 10 {
		t.Errorf("Put(at limit) = %d, %v", size, err)
	}
}

func TestBlobStore_OpenMissing(t *testing.T) {
	s := newTestBlobStore(t)
	if _, err := s.Open(HashBytes([]byte("nope"))); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Open() error = %v, want NOT_FOUND", err)
	}
}

// =====================================================
// Verify / Delete / List
// =====================================================

func TestBlobStore_Verify(t *testing.T) {
	s := newTestBlobStore(t)
	hash, _, _, _ := s.Put(strings.NewReader("intact"), 0, nil)

	ok, err := s.Verify(hash)
	if err != nil || !ok {
		t.Fatalf("Verify() = %v, %v, want true", ok, err)
	}

	if err := os.WriteFile(s.Path(hash), []byte("tampered"), 0644); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Verify(hash); ok {
		t.Error("Verify() should detect corruption")
	}
}

func TestBlobStore_DeletePrunesDirs(t *testing.T) {
	s := newTestBlobStore(t)
	hash, _, _, _ := s.Put(strings.NewReader("gone soon"), 0, nil)

	if err := s.Delete(hash); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if s.Exists(hash) {
		t.Error("blob should be gone")
	}
	if _, err := os.Stat(filepath.Dir(filepath.Dir(s.Path(hash)))); !os.IsNotExist(err) {
		t.Error("empty fan-out directory should be pruned")
	}
	if err := s.Delete(hash); err != nil {
		t.Errorf("Delete(missing) error = %v", err)
	}
}

func TestBlobStore_ListFindsTemps(t *testing.T) {
	s := newTestBlobStore(t)
	s.Put(strings.NewReader("kept"), 0, nil)
	if err := os.WriteFile(filepath.Join(s.baseDir, ".incoming-123"), []byte("partial"), 0644); err != nil {
		t.Fatal(err)
	}

	hashes, temps, err := s.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(hashes) != 1 || len(temps) != 1 {
		t.Errorf("List() = %v, %v", hashes, temps)
	}
}

// =====================================================
// Content detection
// =====================================================

func TestDetectContentType(t *testing.T) {
	png := pngBytes(t, 1)

	ct, err := detectContentType(png, models.MediaImage)
	if err != nil || ct != "image/png" {
		t.Errorf("detectContentType(png, image) = %q, %v", ct, err)
	}
	if _, err := detectContentType(png, models.MediaVideo); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("png as video error = %v, want VALIDATION_ERROR", err)
	}
	if _, err := detectContentType([]byte("<html>oops</html>"), models.MediaImage); !apperrors.Is(err, apperrors.ErrValidation) {
		t.Errorf("html as image error = %v, want VALIDATION_ERROR", err)
	}
}
