package safeio

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/semaphore"
)

// FileSystem is the file access a trace needs. Missing paths are reported
// with errors satisfying IsMissing.
type FileSystem interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	Stat(ctx context.Context, path string) (fs.FileInfo, error)
	// Readlink returns "" with a nil error when path is not a symlink.
	Readlink(ctx context.Context, path string) (string, error)
	// Glob returns absolute paths of files under dir matching a
	// slash-separated doublestar pattern.
	Glob(ctx context.Context, dir, pattern string) ([]string, error)
}

// IsMissing reports whether err means the path does not exist as the kind of
// entry the caller wanted.
func IsMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) || errors.Is(err, syscall.EISDIR)
}

type OS struct{}

func (OS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (OS) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Stat(path)
}

func (OS) Readlink(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	target, err := os.Readlink(path)
	if err != nil {
		if IsMissing(err) || errors.Is(err, syscall.EINVAL) {
			return "", nil
		}
		return "", err
	}
	return target, nil
}

func (OS) Glob(ctx context.Context, dir, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fsys := os.DirFS(dir)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		if IsMissing(err) {
			return nil, nil
		}
		return nil, err
	}
	files := make([]string, 0, len(matches))
	for _, match := range matches {
		info, err := fs.Stat(fsys, match)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, filepath.Join(dir, filepath.FromSlash(match)))
	}
	return files, nil
}

// Limited bounds concurrent reads, stats and readlinks of another
// FileSystem. Globs are not limited.
type Limited struct {
	fs  FileSystem
	sem *semaphore.Weighted
}

func NewLimited(fsys FileSystem, concurrency int) *Limited {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Limited{fs: fsys, sem: semaphore.NewWeighted(int64(concurrency))}
}

func (l *Limited) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)
	return l.fs.ReadFile(ctx, path)
}

func (l *Limited) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)
	return l.fs.Stat(ctx, path)
}

func (l *Limited) Readlink(ctx context.Context, path string) (string, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer l.sem.Release(1)
	return l.fs.Readlink(ctx, path)
}

func (l *Limited) Glob(ctx context.Context, dir, pattern string) ([]string, error) {
	return l.fs.Glob(ctx, dir, pattern)
}
