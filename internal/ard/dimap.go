package ard

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// moveDimap relocates a BEAM-DIMAP product, the .dim header plus the .data
// directory, given by base paths without extension. An existing target is
// replaced. Scratch and processing directories can live on different
// filesystems, so a failed rename falls back to a copy.
func moveDimap(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create product directory: %w", err)
	}
	deleteDimap(dst)

	if err := movePath(src+".dim", dst+".dim"); err != nil {
		return fmt.Errorf("failed to move %s.dim: %w", src, err)
	}
	if err := movePath(src+".data", dst+".data"); err != nil {
		return fmt.Errorf("failed to move %s.data: %w", src, err)
	}
	return nil
}

// deleteDimap removes a BEAM-DIMAP product given by its base path.
func deleteDimap(base string) {
	os.Remove(base + ".dim")
	os.RemoveAll(base + ".data")
}

func movePath(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyPath(src, dst); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

func copyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
