// Package dedup suppresses re-delivered fill events for one account.
package dedup

import (
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultTTL is how long an order id is remembered when no TTL is configured.
const DefaultTTL = 30 * time.Minute

// Suppressor remembers recently seen exchange order ids. Entries expire after the TTL,
// so the set stays bounded over a long-lived listener. State is in memory only and is
// lost on restart.
type Suppressor struct {
	cache *cache.Cache
}

// New creates a Suppressor whose entries expire after ttl.
func New(ttl time.Duration) *Suppressor {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Suppressor{cache: cache.New(ttl, 2*ttl)}
}

// Seen reports whether orderID was already recorded. A new id is recorded and false is
// returned; a known id leaves the state unchanged.
func (s *Suppressor) Seen(orderID int64) bool {
	// Add fails when the key is present and unexpired.
	return s.cache.Add(strconv.FormatInt(orderID, 10), struct{}{}, cache.DefaultExpiration) != nil
}

// Forget drops orderID so a later delivery is processed again.
func (s *Suppressor) Forget(orderID int64) {
	s.cache.Delete(strconv.FormatInt(orderID, 10))
}

// Len returns the number of ids currently remembered, expired ones included until the next sweep.
func (s *Suppressor) Len() int {
	return s.cache.ItemCount()
}
