// Package zip packs published job files into one archive for uploaders
// that take a single file.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"time"
)

// Entry is one archive member. Path is streamed from disk when set,
// otherwise Data is written.
type Entry struct {
	Name string
	Path string
	Data []byte
}

// Write archives entries into w in order. Media files are stored without
// compression since they are already compressed.
func Write(w io.Writer, entries []Entry, modified time.Time) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		if err := writeEntry(zw, e, modified); err != nil {
			_ = zw.Close()
			return err
		}
	}
	return zw.Close()
}

func writeEntry(zw *zip.Writer, e Entry, modified time.Time) error {
	hdr := &zip.FileHeader{Name: e.Name, Method: zip.Deflate, Modified: modified}
	if e.Path == "" {
		dst, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", e.Name, err)
		}
		if _, err := dst.Write(e.Data); err != nil {
			return fmt.Errorf("zip: write %s: %w", e.Name, err)
		}
		return nil
	}

	src, err := os.Open(e.Path)
	if err != nil {
		return fmt.Errorf("zip: open %s: %w", e.Name, err)
	}
	defer src.Close()
	hdr.Method = zip.Store
	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("zip: create %s: %w", e.Name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("zip: copy %s: %w", e.Name, err)
	}
	return nil
}
