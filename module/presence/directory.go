package presence

import (
	"context"
	"time"
)

// Directory tracks which users are online in which routing context and
// caches each user's set of chat memberships.
//
// Presence is soft state: entries carry a TTL renewed by heartbeats and are
// never persisted. After a restart the directory is reconstructed from
// active connections. The membership cache is not authoritative; a miss
// must be repopulated from the membership source of truth via
// CacheMemberships before retrying.
type Directory interface {
	// MarkOnline is idempotent and (re)sets the entry TTL.
	MarkOnline(ctx context.Context, routingKey, userID string) error
	// MarkOffline removes the entry; absent entries are not an error.
	MarkOffline(ctx context.Context, routingKey, userID string) error
	// ListOnline returns the users currently online on the key.
	ListOnline(ctx context.Context, routingKey string) (map[string]struct{}, error)
	// TotalOnline counts distinct online users across all keys.
	TotalOnline(ctx context.Context) (int64, error)

	GetMemberships(ctx context.Context, userID string) ([]string, bool, error)
	CacheMemberships(ctx context.Context, userID string, keys []string) error
	InvalidateMemberships(ctx context.Context, userID string) error
}

// Config for TTL handling, shared by implementations.
type Config struct {
	TTL           time.Duration // presence entry TTL
	MembershipTTL time.Duration // membership cache TTL
	Clock         func() time.Time
}

func (c *Config) norm() {
	if c.TTL <= 0 {
		c.TTL = 60 * time.Second
	}
	if c.MembershipTTL <= 0 {
		c.MembershipTTL = 6 * time.Hour
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}
