// Package fsbridge connects the project's fs.Filesystem to go-git, which only
// understands billy filesystems.
package fsbridge

import (
	"fmt"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/notesync/notesync/fs"
	fsb "github.com/notesync/notesync/fs/billy"
)

// GitDir is the name of the repository metadata directory inside a worktree.
const GitDir = ".git"

// ToBillyFilesystem unwraps an fs.Filesystem created by the fs/billy package.
//
//nolint:ireturn // returns interface as required by billy.Filesystem interface
func ToBillyFilesystem(fsys fs.Filesystem) (billy.Filesystem, error) {
	billyFS, ok := fsys.(*fsb.FS)
	if !ok {
		return nil, fmt.Errorf("filesystem must be a billy.FS from fs/billy package, got %T", fsys)
	}
	return billyFS.Raw(), nil
}

// Worktree is a worktree filesystem together with the storage for its .git directory.
type Worktree struct {
	FS      billy.Filesystem
	Storage *filesystem.Storage
}

// Scope chroots fsys to workdir and prepares object storage under workdir/.git.
func Scope(fsys fs.Filesystem, workdir string, cacheSize int) (*Worktree, error) {
	billyFS, err := ToBillyFilesystem(fsys)
	if err != nil {
		return nil, err
	}

	scoped, err := billyFS.Chroot(workdir)
	if err != nil {
		return nil, fmt.Errorf("failed to chroot to workdir %q: %w", workdir, err)
	}

	dotGit, err := scoped.Chroot(GitDir)
	if err != nil {
		return nil, fmt.Errorf("failed to chroot to %s: %w", GitDir, err)
	}

	return &Worktree{
		FS:      scoped,
		Storage: NewStorage(dotGit, cacheSize),
	}, nil
}
