package fsbridge

import (
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// DefaultCacheSize is the object cache size used when none is configured.
const DefaultCacheSize = 1000

// NewStorage creates git storage over billyFS with an LRU object cache of
// cacheSize entries (scaled as kibibytes).
func NewStorage(billyFS billy.Filesystem, cacheSize int) *filesystem.Storage {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	objCache := cache.NewObjectLRU(cache.FileSize(cacheSize) * cache.KiByte)
	return filesystem.NewStorage(billyFS, objCache)
}
