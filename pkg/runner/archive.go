package runner

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// zipTree packages every file under srcDir into destZip, preserving
// relative slash paths. The archive is written next to the payload in
// the job directory, so a crash mid-write leaves at worst a partial
// .zip that finalization never references.
func zipTree(srcDir, destZip string) error {
	out, err := os.Create(destZip)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	zw := zip.NewWriter(out)

	walkErr := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, f)
		_ = f.Close()
		return err
	})
	if walkErr != nil {
		_ = zw.Close()
		_ = out.Close()
		_ = os.Remove(destZip)
		return fmt.Errorf("package tree: %w", walkErr)
	}

	if err := zw.Close(); err != nil {
		_ = out.Close()
		return fmt.Errorf("close archive: %w", err)
	}
	return out.Close()
}
