package presence

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDirectory(t *testing.T) (*MemDirectory, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d := NewMemDirectory(Config{
		TTL:           60 * time.Second,
		MembershipTTL: time.Hour,
		Clock:         func() time.Time { return now },
	})
	return d, &now
}

func TestListOnlineFollowsLastEvent(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	require.NoError(t, d.MarkOnline(ctx, "ClassGroup_1", "u1"))
	require.NoError(t, d.MarkOnline(ctx, "ClassGroup_1", "u2"))
	require.NoError(t, d.MarkOffline(ctx, "ClassGroup_1", "u2"))

	online, err := d.ListOnline(ctx, "ClassGroup_1")
	require.NoError(t, err)
	assert.Contains(t, online, "u1")
	assert.NotContains(t, online, "u2")

	// offline twice is not an error
	require.NoError(t, d.MarkOffline(ctx, "ClassGroup_1", "u2"))
}

func TestPresenceTTLExpiry(t *testing.T) {
	d, now := newTestDirectory(t)
	ctx := context.Background()

	require.NoError(t, d.MarkOnline(ctx, "ChannelGroup_5", "u1"))

	*now = now.Add(30 * time.Second)
	online, err := d.ListOnline(ctx, "ChannelGroup_5")
	require.NoError(t, err)
	assert.Contains(t, online, "u1")

	// heartbeat renews the TTL
	require.NoError(t, d.MarkOnline(ctx, "ChannelGroup_5", "u1"))
	*now = now.Add(45 * time.Second)
	online, err = d.ListOnline(ctx, "ChannelGroup_5")
	require.NoError(t, err)
	assert.Contains(t, online, "u1")

	*now = now.Add(61 * time.Second)
	online, err = d.ListOnline(ctx, "ChannelGroup_5")
	require.NoError(t, err)
	assert.Empty(t, online)
}

func TestTotalOnline(t *testing.T) {
	d, now := newTestDirectory(t)
	ctx := context.Background()

	require.NoError(t, d.MarkOnline(ctx, "ClassGroup_1", "u1"))
	require.NoError(t, d.MarkOnline(ctx, "ClassGroup_2", "u1"))
	require.NoError(t, d.MarkOnline(ctx, "ClassGroup_2", "u2"))

	n, err := d.TotalOnline(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	*now = now.Add(2 * time.Minute)
	n, err = d.TotalOnline(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestTotalOnlineDropsOnLastOffline(t *testing.T) {
	d, _ := newTestDirectory(t)
	ctx := context.Background()

	require.NoError(t, d.MarkOnline(ctx, "ClassGroup_1", "u1"))
	require.NoError(t, d.MarkOnline(ctx, "ClassGroup_2", "u1"))
	require.NoError(t, d.MarkOnline(ctx, "ClassGroup_1", "u2"))

	// u1 keeps one key online, so the aggregate still counts them
	require.NoError(t, d.MarkOffline(ctx, "ClassGroup_1", "u1"))
	n, err := d.TotalOnline(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	// the last key going offline removes u1 before the TTL lapses
	require.NoError(t, d.MarkOffline(ctx, "ClassGroup_2", "u1"))
	n, err = d.TotalOnline(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, d.MarkOffline(ctx, "ClassGroup_1", "u2"))
	n, err = d.TotalOnline(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestMembershipCacheRoundTrip(t *testing.T) {
	d, now := newTestDirectory(t)
	ctx := context.Background()

	_, ok, err := d.GetMemberships(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok, "cold cache must report a miss")

	require.NoError(t, d.CacheMemberships(ctx, "u1", []string{"ClassGroup_1", "ChannelGroup_2"}))
	keys, ok, err := d.GetMemberships(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	sort.Strings(keys)
	assert.Equal(t, []string{"ChannelGroup_2", "ClassGroup_1"}, keys)

	// invalidation brings back the miss
	require.NoError(t, d.InvalidateMemberships(ctx, "u1"))
	_, ok, err = d.GetMemberships(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	// TTL expiry brings back the miss as well
	require.NoError(t, d.CacheMemberships(ctx, "u1", []string{"ClassGroup_1"}))
	*now = now.Add(2 * time.Hour)
	_, ok, err = d.GetMemberships(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}
