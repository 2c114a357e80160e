package mirror

import (
	"sort"
	"strings"
)

// ChangeKind classifies a change relative to the baseline.
type ChangeKind int

const (
	Added ChangeKind = iota + 1
	Modified
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change is one path that differs from the baseline on one side.
type Change struct {
	Path string
	Kind ChangeKind
}

// Plan is the result of comparing the working copy and the fetched snapshot
// against the baseline. Conflicting paths appear in both Local and Remote as
// well as in Conflicts.
type Plan struct {
	Local     []Change
	Remote    []Change
	Conflicts []string

	// Converged paths changed on both sides to identical content (or were
	// deleted on both). They need only a baseline update.
	Converged []string
}

// HasConflicts reports whether any path changed differently on both sides.
func (p Plan) HasConflicts() bool {
	return len(p.Conflicts) > 0
}

// Diff compares local files and the manifest's fetched snapshot against its
// baseline. Local changes are detected by SHA-256, remote changes by ETag.
func Diff(local map[string]LocalFile, m *Manifest) Plan {
	localChanges := make(map[string]ChangeKind)
	for p, f := range local {
		base, ok := m.Files[p]
		switch {
		case !ok:
			localChanges[p] = Added
		case base.SHA256 != f.SHA256:
			localChanges[p] = Modified
		}
	}
	for p := range m.Files {
		if _, ok := local[p]; !ok {
			localChanges[p] = Deleted
		}
	}

	remoteChanges := make(map[string]ChangeKind)
	for p, r := range m.Remote {
		base, ok := m.Files[p]
		switch {
		case !ok:
			remoteChanges[p] = Added
		case base.ETag != r.ETag:
			remoteChanges[p] = Modified
		}
	}
	for p := range m.Files {
		if _, ok := m.Remote[p]; !ok {
			remoteChanges[p] = Deleted
		}
	}

	var plan Plan
	for p, kind := range localChanges {
		rkind, both := remoteChanges[p]
		if !both {
			plan.Local = append(plan.Local, Change{Path: p, Kind: kind})
			continue
		}
		if converged(kind, rkind, local[p], m.Remote[p]) {
			plan.Converged = append(plan.Converged, p)
			delete(remoteChanges, p)
			continue
		}
		plan.Local = append(plan.Local, Change{Path: p, Kind: kind})
		plan.Conflicts = append(plan.Conflicts, p)
	}
	for p, kind := range remoteChanges {
		plan.Remote = append(plan.Remote, Change{Path: p, Kind: kind})
	}

	sortChanges(plan.Local)
	sortChanges(plan.Remote)
	sort.Strings(plan.Conflicts)
	sort.Strings(plan.Converged)
	return plan
}

// converged reports whether both sides ended up with the same content. A
// multipart ETag is not an MD5 digest and never matches.
func converged(local, remote ChangeKind, f LocalFile, r RemoteEntry) bool {
	if local == Deleted || remote == Deleted {
		return local == Deleted && remote == Deleted
	}
	if strings.Contains(r.ETag, "-") {
		return false
	}
	return f.Size == r.Size && f.MD5 == r.ETag
}

func sortChanges(cs []Change) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Path < cs[j].Path })
}
