package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"time"
)

// ZipWriter writes entries into a deflated ZIP archive in the given order.
type ZipWriter struct {
	// Modified is stamped on every entry; zero means time.Now().
	Modified time.Time
}

func (w ZipWriter) ContentType() string {
	return "application/zip"
}

func (w ZipWriter) Write(ctx context.Context, entries []Entry) ([]byte, error) {
	modified := w.Modified
	if modified.IsZero() {
		modified = time.Now()
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			_ = zw.Close()
			return nil, err
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.Name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			_ = zw.Close()
			return nil, fmt.Errorf("create entry %s: %w", e.Name, err)
		}
		if _, err := fw.Write(e.Data); err != nil {
			_ = zw.Close()
			return nil, fmt.Errorf("write entry %s: %w", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize zip: %w", err)
	}
	return buf.Bytes(), nil
}
