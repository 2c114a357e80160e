package repo

import (
	stderrors "errors"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/notesync/notesync/errors"
	"github.com/notesync/notesync/fs"
	"github.com/notesync/notesync/fs/billy"
)

// Engine metadata inside a working copy. Neither is ever listed, read or
// written through the file operations.
const (
	GitDir         = ".git"
	StateDir       = ".notesync"
	S3ManifestPath = StateDir + "/s3-manifest.json"
)

// OpenWorkingCopy returns a filesystem rooted at localPath, creating the
// directory if it does not exist.
func OpenWorkingCopy(localPath string) (fs.Filesystem, error) {
	const op = "repo.open"

	if strings.TrimSpace(localPath) == "" {
		return nil, errors.Newf(errors.CodeValidation, op, "local path is empty")
	}
	abs, err := fs.GetAbs(localPath)
	if err != nil {
		return nil, errors.New(errors.CodeValidation, op, err)
	}

	fsys := billy.NewOSFS(abs)
	if err := fsys.MkdirAll(".", 0o755); err != nil {
		return nil, errors.FromFS(op, err)
	}
	return fsys, nil
}

// DetectKind reports which provider's metadata the working copy holds. It
// returns "" for a plain folder.
func DetectKind(fsys fs.Filesystem) (Kind, error) {
	isGit, err := fsys.Exists(GitDir)
	if err != nil {
		return "", errors.FromFS("repo.detect", err)
	}
	if isGit {
		return KindGit, nil
	}

	isS3, err := fsys.Exists(S3ManifestPath)
	if err != nil {
		return "", errors.FromFS("repo.detect", err)
	}
	if isS3 {
		return KindS3, nil
	}
	return "", nil
}

// EnsureKind fails with REPO_PROVIDER_MISMATCH when the working copy belongs
// to a provider other than want. A plain folder is accepted.
func EnsureKind(fsys fs.Filesystem, want Kind) error {
	got, err := DetectKind(fsys)
	if err != nil {
		return err
	}
	if got != "" && got != want {
		return errors.Newf(errors.CodeRepoProviderMismatch, "repo.open",
			"%s holds a %s working copy, not %s", fsys.Root(), got, want)
	}
	return nil
}

// CleanPath validates a caller-supplied path and returns it cleaned. Paths
// must be relative, slash-separated, stay inside the root and avoid engine
// metadata.
func CleanPath(p string) (string, error) {
	const op = "repo.path"

	if strings.TrimSpace(p) == "" {
		return "", errors.Newf(errors.CodeValidation, op, "path is empty")
	}
	if strings.Contains(p, `\`) || path.IsAbs(p) || filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return "", errors.Newf(errors.CodeValidation, op, "path %q must be relative and slash-separated", p)
	}

	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errors.Newf(errors.CodeValidation, op, "path %q escapes the working copy", p)
	}
	if isMetadata(clean) {
		return "", errors.Newf(errors.CodeValidation, op, "path %q is reserved", p)
	}
	return clean, nil
}

func isMetadata(clean string) bool {
	first, _, _ := strings.Cut(clean, "/")
	return first == GitDir || first == StateDir
}

// ReadWorkingFile reads a validated path from the working copy.
func ReadWorkingFile(fsys fs.Filesystem, p string) ([]byte, error) {
	clean, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	data, err := fsys.ReadFile(clean)
	if err != nil {
		return nil, errors.FromFS("files.read", err)
	}
	return data, nil
}

// WriteWorkingFile atomically writes a validated path, creating parents.
func WriteWorkingFile(fsys fs.Filesystem, p string, content []byte) error {
	clean, err := CleanPath(p)
	if err != nil {
		return err
	}
	if err := fsys.WriteFileAtomic(clean, content, 0o644); err != nil {
		return errors.FromFS("files.write", err)
	}
	return nil
}

// ListTree lists the working copy, directories included, sorted by path.
// Engine metadata is omitted.
func ListTree(fsys fs.Filesystem) ([]TreeEntry, error) {
	var entries []TreeEntry

	err := fsys.Walk(".", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if p == "." && stderrors.Is(err, os.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		rel := filepath.ToSlash(p)
		if rel == "." {
			return nil
		}
		if isMetadata(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		entry := TreeEntry{Path: rel, IsDir: info.IsDir()}
		if !info.IsDir() {
			entry.Size = info.Size()
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, errors.FromFS("repo.tree", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}
