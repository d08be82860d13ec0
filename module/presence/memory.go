package presence

import (
	"context"
	"sync"
	"time"
)

// MemDirectory is the in-process implementation used by tests and by
// single-node deployments without a fast store.
type MemDirectory struct {
	mu      sync.RWMutex
	conf    Config
	entries map[string]map[string]time.Time // routingKey -> userID -> expireAt
	all     map[string]time.Time            // userID -> expireAt
	keys    map[string]map[string]struct{}  // userID -> routing keys online
	members map[string]memEntry             // userID -> cached memberships
}

type memEntry struct {
	keys     []string
	expireAt time.Time
}

func NewMemDirectory(conf Config) *MemDirectory {
	conf.norm()
	return &MemDirectory{
		conf:    conf,
		entries: make(map[string]map[string]time.Time),
		all:     make(map[string]time.Time),
		keys:    make(map[string]map[string]struct{}),
		members: make(map[string]memEntry),
	}
}

func (d *MemDirectory) MarkOnline(_ context.Context, routingKey, userID string) error {
	now := d.conf.Clock()
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.entries[routingKey]
	if m == nil {
		m = make(map[string]time.Time)
		d.entries[routingKey] = m
	}
	m[userID] = now.Add(d.conf.TTL)
	d.all[userID] = now.Add(d.conf.TTL)
	ks := d.keys[userID]
	if ks == nil {
		ks = make(map[string]struct{})
		d.keys[userID] = ks
	}
	ks[routingKey] = struct{}{}
	return nil
}

func (d *MemDirectory) MarkOffline(_ context.Context, routingKey, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m := d.entries[routingKey]; m != nil {
		delete(m, userID)
		if len(m) == 0 {
			delete(d.entries, routingKey)
		}
	}
	if ks := d.keys[userID]; ks != nil {
		delete(ks, routingKey)
		// the aggregate entry goes only with the user's last key
		if len(ks) == 0 {
			delete(d.keys, userID)
			delete(d.all, userID)
		}
	}
	return nil
}

func (d *MemDirectory) ListOnline(_ context.Context, routingKey string) (map[string]struct{}, error) {
	now := d.conf.Clock()
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]struct{})
	m := d.entries[routingKey]
	for u, exp := range m {
		if exp.After(now) {
			out[u] = struct{}{}
		} else {
			delete(m, u)
		}
	}
	return out, nil
}

func (d *MemDirectory) TotalOnline(_ context.Context) (int64, error) {
	now := d.conf.Clock()
	d.mu.Lock()
	defer d.mu.Unlock()
	var n int64
	for u, exp := range d.all {
		if exp.After(now) {
			n++
		} else {
			delete(d.all, u)
		}
	}
	return n, nil
}

func (d *MemDirectory) GetMemberships(_ context.Context, userID string) ([]string, bool, error) {
	now := d.conf.Clock()
	d.mu.RLock()
	e, ok := d.members[userID]
	d.mu.RUnlock()
	if !ok || !e.expireAt.After(now) {
		return nil, false, nil
	}
	out := make([]string, len(e.keys))
	copy(out, e.keys)
	return out, true, nil
}

func (d *MemDirectory) CacheMemberships(_ context.Context, userID string, keys []string) error {
	now := d.conf.Clock()
	cp := make([]string, len(keys))
	copy(cp, keys)
	d.mu.Lock()
	d.members[userID] = memEntry{keys: cp, expireAt: now.Add(d.conf.MembershipTTL)}
	d.mu.Unlock()
	return nil
}

func (d *MemDirectory) InvalidateMemberships(_ context.Context, userID string) error {
	d.mu.Lock()
	delete(d.members, userID)
	d.mu.Unlock()
	return nil
}

var _ Directory = (*MemDirectory)(nil)
