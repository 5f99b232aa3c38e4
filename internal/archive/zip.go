package archive

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/vibecode/vibecode/internal/models"
)

// ReadZip builds a tree from a zip archive, in central-directory order.
func ReadZip(r io.ReaderAt, size int64) ([]*models.FileNode, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		f := f
		entries = append(entries, Entry{
			Path:  f.Name,
			IsDir: f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/"),
			Open:  f.Open,
		})
	}
	return Build(entries)
}

// ReadZipBytes is ReadZip over an in-memory archive.
func ReadZipBytes(data []byte) ([]*models.FileNode, error) {
	return ReadZip(bytes.NewReader(data), int64(len(data)))
}
