package payload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const partSuffix = ".part"

// FileSink reassembles an inbound payload into a file. Chunks land in a
// .part sibling; only a successful Commit renames it into place, so a
// torn transfer never leaves a plausible-looking final file behind.
type FileSink struct {
	part      *os.File
	finalPath string
	closed    bool
}

// CreateFile opens the .part staging file for an inbound payload. The
// destination directory is created if missing.
func CreateFile(destPath string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return nil, fmt.Errorf("create destination dir: %w", err)
	}
	part, err := os.Create(destPath + partSuffix)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	return &FileSink{part: part, finalPath: destPath}, nil
}

func (fs *FileSink) WriteAt(p []byte, off int64) (int, error) {
	return fs.part.WriteAt(p, off)
}

// Digest hashes the staged bytes. Chunks arrive out of order, so the
// hash runs over the file once everything is in place rather than
// streaming during receipt.
func (fs *FileSink) Digest() (string, error) {
	info, err := fs.part.Stat()
	if err != nil {
		return "", fmt.Errorf("stat staging file: %w", err)
	}
	hasher := sha256.New()
	if _, err := io.Copy(hasher, io.NewSectionReader(fs.part, 0, info.Size())); err != nil {
		return "", fmt.Errorf("hash staging file: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Commit moves the staged file to its final path.
func (fs *FileSink) Commit() error {
	if fs.closed {
		return nil
	}
	fs.closed = true
	if err := fs.part.Close(); err != nil {
		return fmt.Errorf("close staging file: %w", err)
	}
	if err := os.Rename(fs.finalPath+partSuffix, fs.finalPath); err != nil {
		return fmt.Errorf("finalize %s: %w", fs.finalPath, err)
	}
	return nil
}

// Discard drops the staged file.
func (fs *FileSink) Discard() error {
	if fs.closed {
		return nil
	}
	fs.closed = true
	_ = fs.part.Close()
	if err := os.Remove(fs.finalPath + partSuffix); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove staging file: %w", err)
	}
	return nil
}

// FinalPath returns where the committed payload lands.
func (fs *FileSink) FinalPath() string { return fs.finalPath }
