package export

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// WriteFile stores a document; a ".gz" suffix gzip-compresses it.
func WriteFile(path string, doc Document) error {
	data, err := Marshal(doc)
	if err != nil {
		return err
	}

	if isCompressed(path) {
		if data, err = compressGzip(data); err != nil {
			return err
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write export %s: %w", path, err)
	}
	return nil
}

// ReadFile loads a document written by WriteFile.
func ReadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read export %s: %w", path, err)
	}

	if isCompressed(path) {
		if data, err = decompressGzip(data); err != nil {
			return Document{}, err
		}
	}
	return Unmarshal(data)
}

// Encode returns the file body WriteFile would produce for name.
func Encode(name string, doc Document) ([]byte, error) {
	data, err := Marshal(doc)
	if err != nil {
		return nil, err
	}
	if isCompressed(name) {
		return compressGzip(data)
	}
	return data, nil
}

func isCompressed(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".gz")
}

// compressGzip 使用gzip压缩数据
func compressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}

	return buf.Bytes(), nil
}

// decompressGzip 使用gzip解压缩数据
func decompressGzip(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader creation failed: %w", err)
	}
	defer reader.Close()

	result, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("gzip read failed: %w", err)
	}

	return result, nil
}
