package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"PRelay/global"
	"PRelay/module/presence"
	"PRelay/module/unread"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingRelay struct {
	mu   sync.Mutex
	envs []*RelayEnvelope
}

func (r *capturingRelay) Publish(_ context.Context, env *RelayEnvelope) error {
	r.mu.Lock()
	r.envs = append(r.envs, env)
	r.mu.Unlock()
	return nil
}

func (r *capturingRelay) published() []*RelayEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*RelayEnvelope(nil), r.envs...)
}

type capturingNotifier struct {
	mu    sync.Mutex
	users []string
}

func (n *capturingNotifier) Notify(_ context.Context, userID string, _ []byte) error {
	n.mu.Lock()
	n.users = append(n.users, userID)
	n.mu.Unlock()
	return nil
}

func (n *capturingNotifier) notified() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.users...)
}

type nilDurable struct{}

func (nilDurable) ComputeUnread(context.Context, unread.Key) (int64, error) { return 0, nil }
func (nilDurable) LastRead(context.Context, unread.Key) (int64, error)      { return 0, nil }
func (nilDurable) BulkUpsertLastRead(context.Context, []unread.LastReadEntry) error {
	return nil
}
func (nilDurable) BulkUpsertUnread(context.Context, []unread.UnreadEntry) error { return nil }

type bridgeFixture struct {
	bridge   *Bridge
	conns    *ConnManager
	relay    *capturingRelay
	notifier *capturingNotifier
	engine   *unread.Engine
	dir      presence.Directory
}

func newBridgeFixture(t *testing.T, processRole string) *bridgeFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	conns := NewConnManager(time.Minute, time.Hour)
	fanout := NewFanout(2, 64)
	fanout.Start(ctx)

	relay := &capturingRelay{}
	notifier := &capturingNotifier{}
	dir := presence.NewMemDirectory(presence.Config{})
	engine := unread.NewEngine(unread.NewMemStore(), nilDurable{})

	return &bridgeFixture{
		bridge:   NewBridge(processRole, conns, fanout, dir, engine, relay, notifier),
		conns:    conns,
		relay:    relay,
		notifier: notifier,
		engine:   engine,
		dir:      dir,
	}
}

func addConn(f *bridgeFixture, connID, userID string, keys ...string) *Client {
	c := NewClient(connID, nil, 16)
	c.UserID = userID
	c.Authorized = true
	f.conns.Add(c)
	f.conns.Bind(c, userID)
	f.conns.Subscribe(c, keys...)
	return c
}

func received(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case b := <-c.send:
			out = append(out, b)
		default:
			return out
		}
	}
}

func TestDeliverExcludesOriginConn(t *testing.T) {
	f := newBridgeFixture(t, global.ProcessMobile)
	key := global.ClassGroupKey("g1")
	sender := addConn(f, "conn-a", "alice", key)
	peer := addConn(f, "conn-b", "bob", key)

	f.bridge.Deliver(context.Background(), key, []byte(`{"type":"ReceiveMessage"}`), DeliverOptions{
		ExcludeConnID: sender.ConnID,
	})

	require.Eventually(t, func() bool { return len(received(peer)) > 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, received(sender), "sender connection must not see its own message")
}

func TestRelayNoEcho(t *testing.T) {
	ctx := context.Background()
	mobile := newBridgeFixture(t, global.ProcessMobile)
	web := newBridgeFixture(t, global.ProcessWeb)

	key := global.ClassGroupKey("g1")
	webConn := addConn(web, "conn-w", "bob", key)
	mobileConn := addConn(mobile, "conn-m", "alice", key)

	// alice sends from mobile
	mobile.bridge.Deliver(ctx, key, []byte(`{"type":"ReceiveMessage"}`), DeliverOptions{
		ExcludeConnID: mobileConn.ConnID,
	})

	envs := mobile.relay.published()
	require.Len(t, envs, 1)
	assert.Equal(t, global.ProcessMobile, envs[0].Origin)

	raw, err := json.Marshal(envs[0])
	require.NoError(t, err)

	// web consumes the mirrored event and delivers it locally once
	require.NoError(t, web.bridge.HandleRelay(ctx, raw))
	require.Eventually(t, func() bool { return len(received(webConn)) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, web.relay.published(), "relayed events are never re-published")

	// the envelope coming back to its own origin is dropped
	require.NoError(t, mobile.bridge.HandleRelay(ctx, raw))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, received(mobileConn), "origin process must drop its own echo")
}

func TestAudienceSettlement(t *testing.T) {
	ctx := context.Background()
	f := newBridgeFixture(t, global.ProcessMobile)
	key := global.ClassGroupKey("g1")
	require.NoError(t, f.dir.MarkOnline(ctx, key, "alice"))
	require.NoError(t, f.dir.MarkOnline(ctx, key, "bob"))
	// carol is a member but offline

	f.bridge.Deliver(ctx, key, []byte(`{"type":"ReceiveMessage"}`), DeliverOptions{
		SenderID: "alice",
		Audience: []string{"alice", "bob", "carol"},
		ChatType: global.ChatTypeClassGroup,
		TargetID: "g1",
	})

	require.Eventually(t, func() bool {
		return len(f.notifier.notified()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"carol"}, f.notifier.notified())

	bobKey := unread.Key{UserID: "bob", TargetID: "g1", ChatType: global.ChatTypeClassGroup}
	assert.EqualValues(t, 1, f.engine.GetCount(ctx, bobKey))

	aliceKey := unread.Key{UserID: "alice", TargetID: "g1", ChatType: global.ChatTypeClassGroup}
	assert.Zero(t, f.engine.GetCount(ctx, aliceKey), "sender never counts their own message")
}
