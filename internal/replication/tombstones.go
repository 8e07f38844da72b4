package replication

import (
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Tombstones remembers recently destroyed entity ids so that calls still in
// flight for them can be told apart from calls for ids that never existed.
// A zero value, or one built with a ttl of zero or less, remembers nothing.
type Tombstones struct {
	cacheInstance *gocache.Cache
}

func NewTombstones(ttl time.Duration) *Tombstones {
	if ttl <= 0 {
		return &Tombstones{}
	}
	return &Tombstones{cacheInstance: gocache.New(ttl, ttl)}
}

func (t *Tombstones) Bury(id NetworkEntityID) {
	if t.cacheInstance == nil {
		return
	}
	t.cacheInstance.SetDefault(key(id), struct{}{})
}

func (t *Tombstones) Buried(id NetworkEntityID) bool {
	if t.cacheInstance == nil {
		return false
	}
	_, ok := t.cacheInstance.Get(key(id))
	return ok
}

func (t *Tombstones) Len() int {
	if t.cacheInstance == nil {
		return 0
	}
	return t.cacheInstance.ItemCount()
}

func key(id NetworkEntityID) string {
	return strconv.FormatInt(int64(id), 10)
}
