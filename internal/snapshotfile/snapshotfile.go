// Package snapshotfile stores encoded index snapshots on disk.
package snapshotfile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"
)

// chunkSize: size of each write chunk and the limiter burst.
const chunkSize = 64 * 1024

// ChecksumSuffix is appended to a snapshot path to name its digest file.
const ChecksumSuffix = ".sha256"

var ErrChecksumMismatch = errors.New("snapshot checksum mismatch")

// Write stores data at path. The bytes go to a temporary file in the same
// directory which is synced and renamed into place, so readers never see a
// partial snapshot. The hex sha256 of data is written next to it and
// returned. A positive bytesPerSec throttles the write.
func Write(ctx context.Context, path string, data []byte, bytesPerSec int64) (string, error) {
	var limiter *rate.Limiter
	if bytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(bytesPerSec), chunkSize)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmp != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	sum := sha256.New()
	for off := 0; off < len(data); off += chunkSize {
		chunk := data[off:min(off+chunkSize, len(data))]
		if limiter != nil {
			if err := limiter.WaitN(ctx, len(chunk)); err != nil {
				return "", fmt.Errorf("rate limiter error: %w", err)
			}
		}
		if _, err := tmp.Write(chunk); err != nil {
			return "", fmt.Errorf("write error: %w", err)
		}
		sum.Write(chunk)
	}

	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync error: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close error: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("rename error: %w", err)
	}
	tmp = nil

	digest := hex.EncodeToString(sum.Sum(nil))
	if err := os.WriteFile(path+ChecksumSuffix, []byte(digest+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write checksum: %w", err)
	}
	return digest, nil
}

// Read loads the snapshot at path. When a digest file exists the contents
// must match it.
func Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	want, err := os.ReadFile(path + ChecksumSuffix)
	if errors.Is(err, os.ErrNotExist) {
		return data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checksum: %w", err)
	}

	got := sha256.Sum256(data)
	if hex.EncodeToString(got[:]) != strings.TrimSpace(string(want)) {
		return nil, fmt.Errorf("%w: %s", ErrChecksumMismatch, path)
	}
	return data, nil
}
