// Package mirror tracks a working copy mirrored to an S3 prefix. It scans and
// hashes local files, keeps the last synced and last fetched state in a
// manifest, and diffs the three into a Plan of local and remote changes.
package mirror

import (
	"context"
	"crypto/md5" //nolint:gosec // compared against S3 ETags, which are MD5 digests.
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"time"

	"github.com/notesync/notesync/fs"
)

// StateDir holds engine metadata inside the working copy. It is never mirrored.
const StateDir = ".notesync"

// LocalFile is a working-copy file with its digests.
type LocalFile struct {
	Path    string // slash-separated, relative to the working copy root
	Size    int64
	ModTime time.Time
	SHA256  string
	MD5     string
}

// Scan walks fsys from its root and hashes every regular file. StateDir and
// any directory named in skip are not descended.
func Scan(ctx context.Context, fsys fs.Filesystem, skip ...string) (map[string]LocalFile, error) {
	skip = append(slices.Clone(skip), StateDir)
	files := make(map[string]LocalFile)

	err := fsys.Walk(".", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if p == "." && errors.Is(err, os.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel := filepath.ToSlash(p)
		if info.IsDir() {
			if rel != "." && slices.Contains(skip, path.Base(rel)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		data, err := fsys.ReadFile(p)
		if err != nil {
			return err
		}
		sha, sum := Digest(data)
		files[rel] = LocalFile{
			Path:    rel,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			SHA256:  sha,
			MD5:     sum,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan working copy: %w", err)
	}

	return files, nil
}

// Digest returns the hex SHA-256 and MD5 of data.
func Digest(data []byte) (sha string, md5sum string) {
	s := sha256.Sum256(data)
	m := md5.Sum(data) //nolint:gosec // see import
	return hex.EncodeToString(s[:]), hex.EncodeToString(m[:])
}
