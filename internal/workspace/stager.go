// Package workspace synthesizes isolated per-rule test directories: pruned
// workflow files, staged input and expected-output artifacts, and
// instantiated test scripts.
package workspace

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// copyFile copies src to dst, creating parent directories as needed and
// carrying over the source file mode so staged scripts stay executable.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// copyTree recursively copies the directory at src to dst.
func copyTree(src, dst string) error {
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

// stagePath copies a file or directory tree from src to dst, dispatching on
// what src actually is.
func stagePath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return copyTree(src, dst)
	}
	return copyFile(src, dst)
}

// stageRelative copies relPath from under sourceBase to under targetBase,
// preserving the relative location. label and ruleName contextualize the
// error when the artifact is absent.
func stageRelative(relPath, sourceBase, targetBase, label, ruleName string) error {
	src := filepath.Join(sourceBase, relPath)
	if _, err := os.Stat(src); err != nil {
		if ruleName != "" {
			return fmt.Errorf("cannot find %s %q for rule %q: %w", label, src, ruleName, err)
		}
		return fmt.Errorf("cannot find %s %q: %w", label, src, err)
	}
	if err := stagePath(src, filepath.Join(targetBase, relPath)); err != nil {
		return fmt.Errorf("staging %s %q: %w", label, relPath, err)
	}
	return nil
}
