package payload

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// FileSource exposes a file on disk as a payload to send. Metadata is
// captured at open time; the digest is computed lazily and cached since
// hashing a large payload is the expensive part.
type FileSource struct {
	file   *os.File
	name   string
	size   int64
	mime   string
	digest string
}

// OpenFile prepares a file for sending. Directories are rejected; the
// chunked protocol moves a single payload per transfer.
func OpenFile(path string) (*FileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat payload %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("payload %s is a directory", path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open payload %s: %w", path, err)
	}

	mime, err := mimetype.DetectFile(path)
	mimeStr := "application/octet-stream"
	if err == nil {
		mimeStr = mime.String()
	}

	return &FileSource{
		file: file,
		name: filepath.Base(path),
		size: info.Size(),
		mime: mimeStr,
	}, nil
}

func (fs *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return fs.file.ReadAt(p, off)
}

func (fs *FileSource) Name() string     { return fs.name }
func (fs *FileSource) Size() int64      { return fs.size }
func (fs *FileSource) MIMEType() string { return fs.mime }

func (fs *FileSource) Digest() (string, error) {
	if fs.digest != "" {
		return fs.digest, nil
	}
	hasher := sha256.New()
	if _, err := io.Copy(hasher, io.NewSectionReader(fs.file, 0, fs.size)); err != nil {
		return "", fmt.Errorf("hash payload %s: %w", fs.name, err)
	}
	fs.digest = hex.EncodeToString(hasher.Sum(nil))
	return fs.digest, nil
}

func (fs *FileSource) Close() error {
	if err := fs.file.Close(); err != nil {
		slog.Error("fail to close payload file", "error", err.Error())
		return err
	}
	return nil
}

// BytesSource wraps an in-memory byte slice as a payload.
type BytesSource struct {
	name string
	mime string
	data []byte
}

func NewBytesSource(name string, data []byte) *BytesSource {
	return &BytesSource{
		name: name,
		mime: mimetype.Detect(data).String(),
		data: data,
	}
}

func (bs *BytesSource) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(bs.data).ReadAt(p, off)
}

func (bs *BytesSource) Name() string     { return bs.name }
func (bs *BytesSource) Size() int64      { return int64(len(bs.data)) }
func (bs *BytesSource) MIMEType() string { return bs.mime }

func (bs *BytesSource) Digest() (string, error) {
	sum := sha256.Sum256(bs.data)
	return hex.EncodeToString(sum[:]), nil
}
