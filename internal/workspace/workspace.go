package workspace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ben-ranford/nfttrace/internal/safeio"
)

var (
	ErrNoEntries     = errors.New("no entry files given")
	ErrUnsafeOutDir  = errors.New("output directory would contain the trace base")
	ErrEntryNotFound = errors.New("entry file not found")
)

// NormalizeBase returns the absolute trace base. An empty path means the
// working directory.
func NormalizeBase(path string) (string, error) {
	if path == "" {
		path = "."
	}
	return filepath.Abs(path)
}

// NormalizeEntries makes entry paths absolute and checks each is a file.
func NormalizeEntries(entries []string) ([]string, error) {
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		abs, err := filepath.Abs(entry)
		if err != nil {
			return nil, fmt.Errorf("resolve entry %s: %w", entry, err)
		}
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entry)
		}
		out = append(out, abs)
	}
	return out, nil
}

// PrepareOutDir empties dir for a build, creating it when needed. A
// directory that is the base or one of its ancestors is refused.
func PrepareOutDir(base, dir string) (string, error) {
	out, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve output directory: %w", err)
	}
	if _, inside := safeio.Contained(out, base); inside {
		return "", fmt.Errorf("%w: %s", ErrUnsafeOutDir, out)
	}
	if err := os.RemoveAll(out); err != nil {
		return "", fmt.Errorf("clear output directory: %w", err)
	}
	if err := os.MkdirAll(out, 0o750); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	return out, nil
}

// CopyEntry copies base/rel to out/rel. Symlinks are recreated with the
// same target rather than followed.
func CopyEntry(base, out, rel string) error {
	src := filepath.Join(base, rel)
	dst := filepath.Join(out, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	file, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, in); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
