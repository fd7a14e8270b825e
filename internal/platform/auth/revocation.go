package auth

import (
	"sync"
	"time"
)

// Denylist holds the ids of logged-out tokens until they would have
// expired on their own. Expired entries are dropped on every Revoke.
type Denylist struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

func NewDenylist() *Denylist {
	return &Denylist{entries: make(map[string]time.Time), now: time.Now}
}

// Revoke denies jti until expiresAt.
func (d *Denylist) Revoke(jti string, expiresAt time.Time) {
	if jti == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pruneLocked()
	if expiresAt.After(d.now()) {
		d.entries[jti] = expiresAt
	}
}

func (d *Denylist) IsRevoked(jti string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	exp, ok := d.entries[jti]
	return ok && exp.After(d.now())
}

// Len counts entries that are still in force.
func (d *Denylist) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pruneLocked()
	return len(d.entries)
}

func (d *Denylist) pruneLocked() {
	now := d.now()
	for jti, exp := range d.entries {
		if !exp.After(now) {
			delete(d.entries, jti)
		}
	}
}
