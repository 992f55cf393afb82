package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

const clientOrderIDPrefix = "ORDER_"

// ClientOrderID derives the deterministic idempotency key for a signal. When
// the signal carries a stable identity that is used directly; otherwise the
// key is hashed from the signal's identity fields. Quantity is deliberately
// excluded: sizing can vary between retries of the same logical signal and
// must not produce a second order.
func ClientOrderID(sig domain.Signal) string {
	if sig.ID != "" {
		return clientOrderIDPrefix + sig.ID
	}
	identity := fmt.Sprintf("%s_%s_%s_%.8f", sig.Symbol, sig.Side, sig.Strategy, sig.EntryPrice)
	sum := sha256.Sum256([]byte(identity))
	return clientOrderIDPrefix + hex.EncodeToString(sum[:])[:16]
}

// Dedup prevents a client order id from being executed more than once within
// a time-to-live window. It is the in-flight guard in front of the ledger's
// duplicate-order backstop. Safe for concurrent use.
type Dedup struct {
	seen      map[string]time.Time // client order id -> last seen time
	ttl       time.Duration
	lastSweep time.Time
	mu        sync.Mutex
}

// NewDedup creates a Dedup instance that considers an id a duplicate if it
// has been seen within the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen:      make(map[string]time.Time),
		ttl:       ttl,
		lastSweep: time.Now(),
	}
}

// IsDuplicate returns true if the id has been seen within the TTL window. If
// the id has not been seen (or has expired), it is recorded and false is
// returned. Expired entries are swept at most once per TTL, so the map stays
// bounded by the ids seen within one window.
func (d *Dedup) IsDuplicate(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if now.Sub(d.lastSweep) >= d.ttl {
		d.sweepLocked(now)
	}

	if lastSeen, ok := d.seen[id]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[id] = now
	return false
}

func (d *Dedup) sweepLocked(now time.Time) {
	for id, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, id)
		}
	}
	d.lastSweep = now
}
