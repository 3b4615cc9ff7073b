package media

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/zeebo/blake3"

	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
)

// BlobStore stores files by their BLAKE3 content hash. Identical payloads
// share one file at baseDir/{hash[0:2]}/{hash[2:4]}/{hash}.
type BlobStore struct {
	baseDir string
}

// NewBlobStore creates the store rooted at baseDir.
func NewBlobStore(baseDir string) (*BlobStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &BlobStore{baseDir: baseDir}, nil
}

// HashBytes returns the hex BLAKE3-256 hash of data.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put streams r into the store and returns its hash and size. head
// receives up to len(head) leading bytes for content sniffing; the number
// filled is returned as sniffed. When limit > 0 and the stream is larger,
// nothing is stored and ErrValidation is returned.
func (s *BlobStore) Put(r io.Reader, limit int64, head []byte) (hash string, size int64, sniffed int, err error) {
	tmp, err := os.CreateTemp(s.baseDir, ".incoming-*")
	if err != nil {
		return "", 0, 0, diskErr("create temp blob", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	hasher := blake3.New()
	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	sniffer := &headCapture{buf: head}
	size, err = io.Copy(io.MultiWriter(tmp, hasher, sniffer), src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, 0, diskErr("write blob", err)
	}
	if limit > 0 && size > limit {
		return "", 0, 0, apperrors.Newf(apperrors.ErrValidation, "media exceeds %d bytes", limit)
	}

	hash = hex.EncodeToString(hasher.Sum(nil))
	dest := s.Path(hash)
	if err = os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", 0, 0, diskErr("create blob directory", err)
	}

	if _, statErr := os.Stat(dest); statErr == nil {
		// Deduplicated.
		os.Remove(tmpPath)
		return hash, size, sniffer.n, nil
	}
	if err = os.Rename(tmpPath, dest); err != nil {
		return "", 0, 0, diskErr("commit blob", err)
	}
	return hash, size, sniffer.n, nil
}

type headCapture struct {
	buf []byte
	n   int
}

func (h *headCapture) Write(p []byte) (int, error) {
	if h.n < len(h.buf) {
		h.n += copy(h.buf[h.n:], p)
	}
	return len(p), nil
}

// Path returns the file system path for hash.
func (s *BlobStore) Path(hash string) string {
	return filepath.Join(s.baseDir, hash[0:2], hash[2:4], hash)
}

// Exists reports whether hash is stored.
func (s *BlobStore) Exists(hash string) bool {
	_, err := os.Stat(s.Path(hash))
	return err == nil
}

// Open opens a stored blob for reading.
func (s *BlobStore) Open(hash string) (*os.File, error) {
	f, err := os.Open(s.Path(hash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "blob %s not found", hash)
	}
	return f, err
}

// Verify re-hashes a stored blob and reports whether it is intact.
func (s *BlobStore) Verify(hash string) (bool, error) {
	f, err := s.Open(hash)
	if err != nil {
		return false, err
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return false, fmt.Errorf("failed to read blob: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)) == hash, nil
}

// Delete removes a blob and prunes empty fan-out directories. Deleting a
// missing blob is not an error.
func (s *BlobStore) Delete(hash string) error {
	path := s.Path(hash)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	// Only succeeds when empty.
	dir := filepath.Dir(path)
	os.Remove(dir)
	os.Remove(filepath.Dir(dir))
	return nil
}

// List returns every stored hash and leftover temp files.
func (s *BlobStore) List() (hashes []string, temps []string, err error) {
	err = filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".incoming-") {
			temps = append(temps, path)
			return nil
		}
		if len(name) == 64 && filepath.Base(filepath.Dir(path)) == name[2:4] {
			hashes = append(hashes, name)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to walk blob store: %w", err)
	}
	return hashes, temps, nil
}

func diskErr(op string, err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return apperrors.Wrap(apperrors.ErrQuotaExceeded, op, err)
	}
	return apperrors.Wrap(apperrors.ErrInternal, op, err)
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
