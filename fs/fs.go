// Package fs defines the filesystem abstraction every working copy is read and
// written through. Providers never touch the OS directly; they receive a
// Filesystem rooted at the profile's local path.
package fs

import (
	"os"
	"path/filepath"
)

// Filesystem is a rooted filesystem. All paths are relative to its root.
type Filesystem interface {
	Create(name string) (File, error)
	Exists(path string) (bool, error)
	MkdirAll(path string, perm os.FileMode) error
	Open(name string) (File, error)
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	ReadDir(dirname string) ([]os.FileInfo, error)
	ReadFile(path string) ([]byte, error)
	Remove(name string) error
	RemoveAll(path string) error
	Rename(oldpath, newpath string) error
	Stat(name string) (os.FileInfo, error)
	TempDir(dir, prefix string) (string, error)
	Walk(root string, walkFn filepath.WalkFunc) error
	WriteFile(filename string, data []byte, perm os.FileMode) error

	// WriteFileAtomic writes data to a temporary sibling of filename and
	// renames it into place, so readers never observe a partial file.
	WriteFileAtomic(filename string, data []byte, perm os.FileMode) error

	// Root returns the absolute location of the filesystem root, or "/" for
	// filesystems that are not backed by the OS.
	Root() string
}
