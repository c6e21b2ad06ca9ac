package proc

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/simtdbg/simtdbg/pkg/gt/gterr"
)

// stopCache is a cache whose entries are only valid while the device is
// stopped. Target.Resume purges it.
type stopCache struct {
	name string
	c    *lru.Cache
}

func newStopCache(name string, size int) (*stopCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, gterr.Internalf("create cache", "%s: %v", name, err)
	}
	return &stopCache{name: name, c: c}, nil
}

func (c *stopCache) get(key uint64) (interface{}, bool) {
	return c.c.Get(key)
}

func (c *stopCache) add(key uint64, v interface{}) {
	c.c.Add(key, v)
}

func (c *stopCache) purge() {
	c.c.Purge()
}

func (c *stopCache) len() int {
	return c.c.Len()
}
