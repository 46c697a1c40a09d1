package store

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// WriteSnapshot packs the named files of srcDir into a zstd-compressed tar
// at dst. Missing files are skipped. The archive is written to dst+".tmp"
// and renamed into place.
func WriteSnapshot(dst, srcDir string, names []string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	tmp := dst + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := writeSnapshot(f, srcDir, names); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func writeSnapshot(w io.Writer, srcDir string, names []string) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	tw := tar.NewWriter(enc)
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(srcDir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			enc.Close()
			return err
		}
		hdr := &tar.Header{
			Name:    name,
			Mode:    0644,
			Size:    int64(len(data)),
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			enc.Close()
			return err
		}
		if _, err := tw.Write(data); err != nil {
			enc.Close()
			return err
		}
	}
	if err := tw.Close(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// RestoreSnapshot extracts a snapshot written by WriteSnapshot into dstDir
// and returns the restored file names.
func RestoreSnapshot(src, dstDir string) ([]string, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return nil, err
	}
	var restored []string
	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return restored, nil
		}
		if err != nil {
			return restored, fmt.Errorf("read snapshot: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := filepath.Base(hdr.Name)
		data, err := io.ReadAll(tr)
		if err != nil {
			return restored, err
		}
		if err := os.WriteFile(filepath.Join(dstDir, name), data, 0644); err != nil {
			return restored, err
		}
		restored = append(restored, name)
	}
}
