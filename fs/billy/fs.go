// Package billy implements fs.Filesystem on top of go-billy. Working copies
// use the OS-backed constructor; tests use the in-memory one.
package billy

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	parentfs "github.com/notesync/notesync/fs"
)

// FS implements parentfs.Filesystem using go-billy.
type FS struct {
	fs billy.Filesystem
}

var _ parentfs.Filesystem = (*FS)(nil)

// Create implements Filesystem.Create.
//
//nolint:ireturn // API returns the fs.File interface by design for flexibility.
func (b *FS) Create(name string) (parentfs.File, error) {
	f, err := b.fs.Create(name)
	if err != nil {
		return nil, fmt.Errorf("billy: create %q: %w", name, err)
	}
	return &File{file: f, fs: b}, nil
}

// Exists implements Filesystem.Exists.
func (b *FS) Exists(name string) (bool, error) {
	_, err := b.fs.Stat(name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("billy: stat %q: %w", name, err)
	}
}

// MkdirAll implements Filesystem.MkdirAll.
func (b *FS) MkdirAll(name string, perm os.FileMode) error {
	if err := b.fs.MkdirAll(name, perm); err != nil {
		return fmt.Errorf("billy: mkdirall %q: %w", name, err)
	}
	return nil
}

// Open implements Filesystem.Open.
//
//nolint:ireturn // API returns the fs.File interface by design for flexibility.
func (b *FS) Open(name string) (parentfs.File, error) {
	f, err := b.fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("billy: open %q: %w", name, err)
	}
	return &File{file: f, fs: b}, nil
}

// OpenFile implements Filesystem.OpenFile.
//
//nolint:ireturn // API returns the fs.File interface by design for flexibility.
func (b *FS) OpenFile(name string, flag int, perm os.FileMode) (parentfs.File, error) {
	f, err := b.fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, fmt.Errorf("billy: openfile %q: %w", name, err)
	}
	return &File{file: f, fs: b}, nil
}

// ReadDir implements Filesystem.ReadDir.
func (b *FS) ReadDir(dirname string) ([]os.FileInfo, error) {
	list, err := b.fs.ReadDir(dirname)
	if err != nil {
		return nil, fmt.Errorf("billy: readdir %q: %w", dirname, err)
	}
	return list, nil
}

// ReadFile implements Filesystem.ReadFile.
func (b *FS) ReadFile(name string) ([]byte, error) {
	bts, err := util.ReadFile(b.fs, name)
	if err != nil {
		return nil, fmt.Errorf("billy: readfile %q: %w", name, err)
	}
	return bts, nil
}

// Remove implements Filesystem.Remove.
func (b *FS) Remove(name string) error {
	if err := b.fs.Remove(name); err != nil {
		return fmt.Errorf("billy: remove %q: %w", name, err)
	}
	return nil
}

// RemoveAll implements Filesystem.RemoveAll.
func (b *FS) RemoveAll(name string) error {
	if err := util.RemoveAll(b.fs, name); err != nil {
		return fmt.Errorf("billy: removeall %q: %w", name, err)
	}
	return nil
}

// Rename implements Filesystem.Rename.
func (b *FS) Rename(oldpath, newpath string) error {
	if err := b.fs.Rename(oldpath, newpath); err != nil {
		return fmt.Errorf("billy: rename %q to %q: %w", oldpath, newpath, err)
	}
	return nil
}

// Stat implements Filesystem.Stat.
func (b *FS) Stat(name string) (os.FileInfo, error) {
	info, err := b.fs.Stat(name)
	if err != nil {
		return nil, fmt.Errorf("billy: stat %q: %w", name, err)
	}
	return info, nil
}

// TempDir implements Filesystem.TempDir.
func (b *FS) TempDir(dir, prefix string) (string, error) {
	name, err := util.TempDir(b.fs, dir, prefix)
	if err != nil {
		return "", fmt.Errorf("billy: tempdir dir=%q prefix=%q: %w", dir, prefix, err)
	}
	return name, nil
}

// Walk implements Filesystem.Walk.
func (b *FS) Walk(root string, walkFn filepath.WalkFunc) error {
	if err := util.Walk(b.fs, root, walkFn); err != nil {
		return fmt.Errorf("billy: walk %q: %w", root, err)
	}
	return nil
}

// WriteFile implements Filesystem.WriteFile. Missing parent directories are created.
func (b *FS) WriteFile(filename string, data []byte, perm os.FileMode) error {
	if err := b.ensureParent(filename); err != nil {
		return err
	}
	if err := util.WriteFile(b.fs, filename, data, perm); err != nil {
		return fmt.Errorf("billy: writefile %q: %w", filename, err)
	}
	return nil
}

// WriteFileAtomic implements Filesystem.WriteFileAtomic.
func (b *FS) WriteFileAtomic(filename string, data []byte, perm os.FileMode) error {
	if err := b.ensureParent(filename); err != nil {
		return err
	}

	dir, base := path.Split(filepath.ToSlash(filename))
	if dir == "" {
		dir = "."
	}

	tmp, err := util.TempFile(b.fs, dir, "."+base+".tmp-")
	if err != nil {
		return fmt.Errorf("billy: tempfile for %q: %w", filename, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = b.fs.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("billy: write %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("billy: close %q: %w", tmpName, err)
	}
	if ch, ok := b.fs.(billy.Change); ok {
		if err := ch.Chmod(tmpName, perm); err != nil {
			cleanup()
			return fmt.Errorf("billy: chmod %q: %w", tmpName, err)
		}
	}
	if err := b.fs.Rename(tmpName, filename); err != nil {
		cleanup()
		return fmt.Errorf("billy: rename %q to %q: %w", tmpName, filename, err)
	}
	return nil
}

func (b *FS) ensureParent(filename string) error {
	dir := path.Dir(filepath.ToSlash(filename))
	if dir == "." || dir == "/" {
		return nil
	}
	if err := b.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("billy: mkdirall %q: %w", dir, err)
	}
	return nil
}

// Root implements Filesystem.Root.
func (b *FS) Root() string {
	return b.fs.Root()
}

// Raw returns the underlying go-billy filesystem.
//
//nolint:ireturn // returning interface here is intentional to expose the adapter target.
func (b *FS) Raw() billy.Filesystem {
	return b.fs
}

// NewFS creates a new FS using the given go-billy filesystem.
func NewFS(fsys billy.Filesystem) *FS {
	return &FS{fs: fsys}
}

// NewInMemoryFS creates a new in-memory filesystem.
func NewInMemoryFS() *FS {
	return &FS{fs: memfs.New()}
}

// NewOSFS creates a filesystem rooted at the given OS directory.
func NewOSFS(root string) *FS {
	return &FS{fs: osfs.New(root)}
}
