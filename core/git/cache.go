package git

import (
	"github.com/dgraph-io/ristretto"
	"github.com/go-git/go-git/v5/plumbing"
)

const (
	diffCacheCounters = 1e4
	diffCacheMaxCost  = 32 << 20
	diffCacheBuffer   = 64
)

// diffCache keeps commit diffs, which never change for a given hash. Cost is
// the approximate byte size of the diff content.
type diffCache struct {
	cache *ristretto.Cache
}

func newDiffCache() (*diffCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: diffCacheCounters,
		MaxCost:     diffCacheMaxCost,
		BufferItems: diffCacheBuffer,
	})
	if err != nil {
		return nil, err
	}
	return &diffCache{cache: cache}, nil
}

func (c *diffCache) Get(hash plumbing.Hash) (DiffInfo, bool) {
	value, found := c.cache.Get(hash.String())
	if !found {
		return DiffInfo{}, false
	}
	info, ok := value.(DiffInfo)
	return info, ok
}

func (c *diffCache) Set(hash plumbing.Hash, info DiffInfo) {
	c.cache.Set(hash.String(), info, diffCost(info))
}

func (c *diffCache) Close() {
	c.cache.Close()
}

func diffCost(info DiffInfo) int64 {
	cost := int64(64)
	for _, f := range info.Files {
		cost += int64(len(f.Path)) + 64
		for _, h := range f.Hunks {
			cost += int64(len(h.Header))
			for _, l := range h.Lines {
				cost += int64(len(l.Content)) + 8
			}
		}
	}
	return cost
}
