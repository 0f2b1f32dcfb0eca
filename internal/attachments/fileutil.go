package attachments

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrTooLarge is returned when a stream exceeds the configured size limit.
var ErrTooLarge = errors.New("upload exceeds size limit")

// WriteAtomic streams src into dst through a temporary file in the same
// directory, then renames it into place. It returns the byte count and the
// hex SHA-256 of the written content. A limit <= 0 disables the size check.
// dst is never left partially written.
func WriteAtomic(dst string, src io.Reader, mode os.FileMode, limit int64) (int64, string, error) {
	dir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return 0, "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	reader := src
	if limit > 0 {
		reader = io.LimitReader(src, limit+1)
	}
	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), reader)
	if err != nil {
		return 0, "", fmt.Errorf("write %s: %w", dst, err)
	}
	if limit > 0 && written > limit {
		return 0, "", fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	if err := tmp.Chmod(mode); err != nil {
		return 0, "", fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, "", fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return 0, "", fmt.Errorf("rename into place: %w", err)
	}
	committed = true
	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifyFile re-hashes path and compares it with the expected size and
// SHA-256 digest.
func VerifyFile(path string, size int64, sum string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	hasher := sha256.New()
	n, err := io.Copy(hasher, f)
	if err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}
	if n != size {
		return fmt.Errorf("size mismatch: recorded %d bytes, found %d bytes", size, n)
	}
	if got := hex.EncodeToString(hasher.Sum(nil)); got != sum {
		return fmt.Errorf("hash mismatch: file %s corrupted", path)
	}
	return nil
}

// RemoveArtifacts deletes each path. Missing files count as removed. Errors
// for individual paths are collected and do not stop the remaining removals.
func RemoveArtifacts(paths []string) (int, error) {
	removed := 0
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
