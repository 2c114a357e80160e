package git

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// LogFilter configures which commits to include in log operations.
type LogFilter struct {
	// Since limits the log to commits after the specified time.
	Since *time.Time

	// Until limits the log to commits before the specified time.
	Until *time.Time

	// Path keeps only commits that touched this file or directory.
	Path string

	// MaxCount limits the number of commits returned. 0 means no limit.
	MaxCount int
}

// CommitInfo summarizes one commit.
type CommitInfo struct {
	Hash    string
	Message string
	Author  string
	When    time.Time

	// Size is the size of LogFilter.Path in this commit, zero when the
	// filter is unset, names a directory or the commit deleted the file.
	Size int64
}

// Log lists commits of the tracked branch, newest first. An unborn branch
// has no history and yields an empty slice.
func (r *Repo) Log(ctx context.Context, f LogFilter) ([]CommitInfo, error) {
	head, err := r.refHash(r.branchRef())
	if err != nil {
		return nil, err
	}
	if head.IsZero() {
		return nil, nil
	}

	logOpts := &git.LogOptions{
		From:  head,
		Order: git.LogOrderCommitterTime,
		Since: f.Since,
		Until: f.Until,
	}

	if f.Path != "" {
		prefix := strings.TrimSuffix(f.Path, "/") + "/"
		logOpts.PathFilter = func(p string) bool {
			return p == f.Path || strings.HasPrefix(p, prefix)
		}
	}

	iter, err := r.repo.Log(logOpts)
	if err != nil {
		return nil, WrapError(err, "failed to create commit iterator")
	}
	defer iter.Close()

	var out []CommitInfo
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		info := CommitInfo{
			Hash:    c.Hash.String(),
			Message: strings.TrimSpace(c.Message),
			Author:  c.Author.Name,
			When:    c.Author.When,
		}
		if f.Path != "" {
			if file, fileErr := c.File(f.Path); fileErr == nil {
				info.Size = file.Size
			}
		}
		out = append(out, info)
		if f.MaxCount > 0 && len(out) >= f.MaxCount {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, WrapError(err, "failed to iterate commits")
	}
	return out, nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}
