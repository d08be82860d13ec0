package chat

import (
	"context"
	"testing"
	"time"

	"PRelay/global"
	"PRelay/module/queue"
	"PRelay/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipelineFixture(t *testing.T) (*Pipeline, *bridgeFixture, *MemMembershipSource, *MemMessageStore) {
	f := newBridgeFixture(t, global.ProcessMobile)
	members := NewMemMembershipSource()
	store := NewMemMessageStore()
	p := NewPipeline(store, members, f.bridge, 15*time.Minute)
	return p, f, members, store
}

func TestExecuteDeliversToGroup(t *testing.T) {
	ctx := context.Background()
	p, f, members, _ := newPipelineFixture(t)
	members.SetRoster(global.ChatTypeClassGroup, "g1", "alice", "bob")

	key := global.ClassGroupKey("g1")
	sender := addConn(f, "conn-a", "alice", key)
	peer := addConn(f, "conn-b", "bob", key)

	rec, err := p.Execute(ctx, &queue.QueuedMessage{
		ClientMsgID:  "c1",
		SenderID:     "alice",
		SenderConnID: sender.ConnID,
		ChatType:     global.ChatTypeClassGroup,
		TargetID:     "g1",
		Text:         "hello",
	})
	require.NoError(t, err)
	assert.NotZero(t, rec.MessageID)
	assert.Equal(t, "c1", rec.ClientMsgID)

	require.Eventually(t, func() bool { return len(received(peer)) > 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, received(sender))
}

func TestExecutePrivateUsesCanonicalKey(t *testing.T) {
	ctx := context.Background()
	p, f, _, _ := newPipelineFixture(t)

	key := global.PrivateKey("alice", "bob")
	peer := addConn(f, "conn-b", "bob", key)

	_, err := p.Execute(ctx, &queue.QueuedMessage{
		ClientMsgID: "c1",
		SenderID:    "bob", // reversed pair must land on the same key
		PeerID:      "alice",
		ChatType:    global.ChatTypePrivate,
		TargetID:    "alice",
		Text:        "hi",
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(received(peer)) > 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestExecuteRejectsMalformedTarget(t *testing.T) {
	p, _, _, _ := newPipelineFixture(t)
	_, err := p.Execute(context.Background(), &queue.QueuedMessage{
		ClientMsgID: "c1",
		SenderID:    "alice",
		ChatType:    "nonsense",
		TargetID:    "g1",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrMalformedTarget)
}

func TestEditInsideWindow(t *testing.T) {
	ctx := context.Background()
	p, _, members, store := newPipelineFixture(t)
	members.SetRoster(global.ChatTypeClassGroup, "g1", "alice", "bob")

	rec, err := store.Persist(ctx, &MessageRecord{
		ClientMsgID: "c1",
		ChatType:    global.ChatTypeClassGroup,
		TargetID:    "g1",
		SenderID:    "alice",
		Text:        "typo",
	})
	require.NoError(t, err)

	res := p.Edit(ctx, "alice", "conn-a", &EditPayload{
		ChatType:  global.ChatTypeClassGroup,
		TargetID:  "g1",
		MessageID: rec.MessageID,
		Text:      "fixed",
	})
	require.True(t, res.Applied)
	assert.Equal(t, "fixed", res.Record.Text)
	assert.True(t, res.Record.Edited)
}

func TestEditRefusals(t *testing.T) {
	ctx := context.Background()
	p, _, _, store := newPipelineFixture(t)
	p.now = func() time.Time { return time.Now().Add(time.Hour) }

	rec, err := store.Persist(ctx, &MessageRecord{
		ClientMsgID: "c1",
		ChatType:    global.ChatTypeClassGroup,
		TargetID:    "g1",
		SenderID:    "alice",
		Text:        "old",
	})
	require.NoError(t, err)

	res := p.Edit(ctx, "alice", "conn-a", &EditPayload{
		ChatType:  global.ChatTypeClassGroup,
		TargetID:  "g1",
		MessageID: rec.MessageID,
		Text:      "late",
	})
	assert.False(t, res.Applied)
	assert.ErrorIs(t, res.Reason, errs.ErrEditWindowClosed)
	assert.Equal(t, 15*time.Minute, res.AllowedWindow, "refusal reports the allowed window")

	p.now = time.Now
	res = p.Edit(ctx, "mallory", "conn-m", &EditPayload{
		ChatType:  global.ChatTypeClassGroup,
		TargetID:  "g1",
		MessageID: rec.MessageID,
		Text:      "mine now",
	})
	assert.False(t, res.Applied)
	assert.ErrorIs(t, res.Reason, errs.ErrUnauthorized)

	res = p.Edit(ctx, "alice", "conn-a", &EditPayload{
		ChatType:  global.ChatTypeClassGroup,
		TargetID:  "g1",
		MessageID: 999999,
		Text:      "ghost",
	})
	assert.False(t, res.Applied)
	assert.ErrorIs(t, res.Reason, errs.ErrRecordNotFound)
}
