package report

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"docbatch/internal/fileutil"
)

// writeArchive zips every file under dir except the archive itself and
// in-flight temp files.
func writeArchive(ctx context.Context, dir, archivePath string) error {
	return fileutil.WriteAtomicFunc(archivePath, 0o644, func(w io.Writer) error {
		zw := zip.NewWriter(w)
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			name := d.Name()
			if d.IsDir() || !d.Type().IsRegular() || path == archivePath || strings.HasPrefix(name, ".") {
				return nil
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			return addZipEntry(zw, path, filepath.ToSlash(rel))
		})
		if err != nil {
			_ = zw.Close()
			return err
		}
		return zw.Close()
	})
}

func addZipEntry(zw *zip.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(dst, src)
	return err
}
