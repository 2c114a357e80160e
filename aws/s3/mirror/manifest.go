package mirror

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/notesync/notesync/aws/s3"
	"github.com/notesync/notesync/fs"
)

// ManifestPath is where the manifest lives inside the working copy.
const ManifestPath = StateDir + "/s3-manifest.json"

const manifestVersion = 1

// Entry is the synced baseline of one file: the content both sides agreed on
// at the last successful pull or push.
type Entry struct {
	SHA256    string `json:"sha256"`
	ETag      string `json:"etag"`
	VersionID string `json:"versionId,omitempty"`
	Size      int64  `json:"size"`
}

// RemoteEntry is one object of the last fetched listing.
type RemoteEntry struct {
	ETag string `json:"etag"`
	Size int64  `json:"size"`
}

// Manifest records the baseline and the last fetched remote snapshot.
type Manifest struct {
	Version   int                    `json:"version"`
	Bucket    string                 `json:"bucket"`
	Prefix    string                 `json:"prefix"`
	SyncedAt  time.Time              `json:"syncedAt"`
	FetchedAt time.Time              `json:"fetchedAt"`
	Files     map[string]Entry       `json:"files"`
	Remote    map[string]RemoteEntry `json:"remote"`
}

// NewManifest returns an empty manifest for bucket and prefix.
func NewManifest(bucket, prefix string) *Manifest {
	return &Manifest{
		Version: manifestVersion,
		Bucket:  bucket,
		Prefix:  NormalizePrefix(prefix),
		Files:   make(map[string]Entry),
		Remote:  make(map[string]RemoteEntry),
	}
}

// LoadManifest reads the manifest from fsys. A missing manifest is reported
// with an error wrapping fs.ErrNotExist.
func LoadManifest(fsys fs.Filesystem) (*Manifest, error) {
	data, err := fsys.ReadFile(ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("manifest version %d is not supported", m.Version)
	}
	if m.Files == nil {
		m.Files = make(map[string]Entry)
	}
	if m.Remote == nil {
		m.Remote = make(map[string]RemoteEntry)
	}
	return &m, nil
}

// Save writes the manifest atomically.
func (m *Manifest) Save(fsys fs.Filesystem) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := fsys.WriteFileAtomic(ManifestPath, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Matches reports whether the manifest was written for bucket and prefix.
func (m *Manifest) Matches(bucket, prefix string) bool {
	return m.Bucket == bucket && m.Prefix == NormalizePrefix(prefix)
}

// SetRemote replaces the fetched snapshot with a listing of the prefix.
// Folder placeholders and keys under StateDir are ignored.
func (m *Manifest) SetRemote(objects []s3.Object, fetchedAt time.Time) {
	remote := make(map[string]RemoteEntry, len(objects))
	for _, obj := range objects {
		p, ok := PathFor(m.Prefix, obj.Key)
		if !ok {
			continue
		}
		remote[p] = RemoteEntry{ETag: obj.ETag, Size: obj.Size}
	}
	m.Remote = remote
	m.FetchedAt = fetchedAt
}

// Record marks path as synced with the given content state on both sides.
func (m *Manifest) Record(p string, e Entry) {
	m.Files[p] = e
	m.Remote[p] = RemoteEntry{ETag: e.ETag, Size: e.Size}
}

// Forget drops path from both the baseline and the fetched snapshot.
func (m *Manifest) Forget(p string) {
	delete(m.Files, p)
	delete(m.Remote, p)
}

// NormalizePrefix strips leading slashes and ensures a non-empty prefix ends
// with exactly one slash.
func NormalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// KeyFor maps a working-copy path to its object key.
func KeyFor(prefix, p string) string {
	return NormalizePrefix(prefix) + p
}

// PathFor maps an object key back to a working-copy path. It reports false for
// keys outside the prefix, folder placeholders and engine metadata.
func PathFor(prefix, key string) (string, bool) {
	prefix = NormalizePrefix(prefix)
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	p := strings.TrimPrefix(key, prefix)
	if p == "" || strings.HasSuffix(p, "/") {
		return "", false
	}
	if p != path.Clean(p) || p == ".." || strings.HasPrefix(p, "../") || path.IsAbs(p) {
		return "", false
	}
	if p == StateDir || strings.HasPrefix(p, StateDir+"/") {
		return "", false
	}
	return p, true
}
