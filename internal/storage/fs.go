package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

type fsOps interface {
	Stat(string) (os.FileInfo, error)
	Remove(string) error
	Rename(string, string) error
	MkdirAll(string, os.FileMode) error
	Copy(src, dst string) error
}

type osFS struct{}

func (osFS) Stat(p string) (os.FileInfo, error)       { return os.Stat(p) }
func (osFS) Remove(p string) error                    { return os.Remove(p) }
func (osFS) Rename(from, to string) error             { return os.Rename(from, to) }
func (osFS) MkdirAll(p string, perm os.FileMode) error { return os.MkdirAll(p, perm) }

func (osFS) Copy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}

// FS stores one file per key under a single directory. The directory is
// resolved on every call so that a directory that becomes unavailable is
// reported instead of cached.
type FS struct {
	dir func() (string, error)
	ext string
	fs  fsOps
	log *slog.Logger
}

var _ Gateway = (*FS)(nil)

// NewFS creates a gateway rooted at dir. An empty dir resolves to
// <user cache dir>/vodcache/videos. ext is appended to every key
// (".mp4" when empty).
func NewFS(dir, ext string, log *slog.Logger) *FS {
	if log == nil {
		log = slog.Default()
	}
	if ext == "" {
		ext = ".mp4"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	dir = strings.TrimSpace(dir)
	resolve := func() (string, error) {
		if dir != "" {
			return filepath.Clean(dir), nil
		}
		base, err := os.UserCacheDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(base, "vodcache", "videos"), nil
	}
	return &FS{dir: resolve, ext: ext, fs: osFS{}, log: log}
}

// Dir returns the resolved storage directory.
func (f *FS) Dir() (string, error) {
	d, err := f.dir()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if d == "" {
		return "", ErrUnavailable
	}
	return d, nil
}

// Ping reports whether the storage directory resolves and can be created.
func (f *FS) Ping(ctx context.Context) error {
	d, err := f.Dir()
	if err != nil {
		return err
	}
	if err := f.fs.MkdirAll(d, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (f *FS) ResolvePath(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	d, err := f.Dir()
	if err != nil {
		return "", false
	}
	return filepath.Join(d, key+f.ext), true
}

func (f *FS) Exists(key string) bool {
	p, ok := f.ResolvePath(key)
	if !ok {
		return false
	}
	info, err := f.fs.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func (f *FS) Remove(key string) error {
	p, ok := f.ResolvePath(key)
	if !ok {
		return ErrUnavailable
	}
	if err := f.fs.Remove(p); err != nil {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	f.log.Info("removed artifact", "path", p)
	return nil
}

func (f *FS) MoveIntoPlace(tempPath, key string) error {
	dst, ok := f.ResolvePath(key)
	if !ok {
		return ErrUnavailable
	}
	if err := f.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	err := f.fs.Rename(tempPath, dst)
	if err == nil {
		f.log.Info("stored artifact", "path", dst)
		return nil
	}
	if errors.Is(err, syscall.EXDEV) {
		return f.copyIntoPlace(tempPath, dst)
	}
	// Some platforms refuse to rename over an existing file.
	if _, serr := f.fs.Stat(dst); serr == nil {
		if rerr := f.fs.Remove(dst); rerr != nil {
			return fmt.Errorf("replace %s: %w", dst, rerr)
		}
		if err := f.fs.Rename(tempPath, dst); err != nil {
			return fmt.Errorf("move into %s: %w", dst, err)
		}
		f.log.Info("replaced stale artifact", "path", dst)
		return nil
	}
	return fmt.Errorf("move into %s: %w", dst, err)
}

// copyIntoPlace handles temp files that live on another filesystem. The copy
// lands next to dst first so the final step is still a rename.
func (f *FS) copyIntoPlace(tempPath, dst string) error {
	staging := dst + ".partial"
	if err := f.fs.Copy(tempPath, staging); err != nil {
		return fmt.Errorf("copy into %s: %w", staging, err)
	}
	if err := f.fs.Rename(staging, dst); err != nil {
		_ = f.fs.Remove(staging)
		return fmt.Errorf("move into %s: %w", dst, err)
	}
	if err := f.fs.Remove(tempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		f.log.Warn("remove temp after copy", "path", tempPath, "err", err)
	}
	f.log.Info("stored artifact", "path", dst, "copied", true)
	return nil
}
