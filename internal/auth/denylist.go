package auth

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultDenylistSize = 10000

// Denylist remembers revoked token ids until the token would have expired
// anyway. It is bounded: under pressure the oldest revocations are evicted.
type Denylist struct {
	entries *expirable.LRU[string, time.Time]
	now     func() time.Time
}

func NewDenylist(size int, maxTTL time.Duration) *Denylist {
	if size <= 0 {
		size = defaultDenylistSize
	}
	return &Denylist{
		entries: expirable.NewLRU[string, time.Time](size, nil, maxTTL),
		now:     time.Now,
	}
}

func (d *Denylist) Add(tokenID string, expiresAt time.Time) {
	if tokenID == "" || !d.now().Before(expiresAt) {
		return
	}
	d.entries.Add(tokenID, expiresAt)
}

func (d *Denylist) Contains(tokenID string) bool {
	expiresAt, ok := d.entries.Get(tokenID)
	if !ok {
		return false
	}
	if !d.now().Before(expiresAt) {
		d.entries.Remove(tokenID)
		return false
	}
	return true
}

func (d *Denylist) Len() int {
	return d.entries.Len()
}
