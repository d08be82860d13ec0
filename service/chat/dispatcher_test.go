package chat

import (
	"testing"

	"PRelay/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoHandler struct {
	op    string
	calls int
}

func (h *echoHandler) Op() string { return h.op }

func (h *echoHandler) Handle(*Context, *Frame, *Client) error {
	h.calls++
	return nil
}

func TestDispatchRequiresAuth(t *testing.T) {
	d := NewDispatcher()
	h := &echoHandler{op: OpSendMessage}
	d.Register(h)

	c := NewClient("conn-1", nil, 4)
	err := d.Dispatch(&Context{}, &Frame{Type: OpSendMessage}, c)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
	assert.Zero(t, h.calls)

	c.Authorized = true
	require.NoError(t, d.Dispatch(&Context{}, &Frame{Type: OpSendMessage}, c))
	assert.Equal(t, 1, h.calls)
}

func TestDispatchUnknownType(t *testing.T) {
	d := NewDispatcher()
	c := NewClient("conn-1", nil, 4)
	err := d.Dispatch(&Context{}, &Frame{Type: "no_such_op"}, c)
	assert.ErrorIs(t, err, errs.ErrUnknownFrameType)
}

func TestParseFrame(t *testing.T) {
	f, err := ParseFrameJSON([]byte(`{"type":"send_message","client_msg_id":"c1","data":{"text":"hi"}}`))
	require.NoError(t, err)
	assert.Equal(t, OpSendMessage, f.Type)
	assert.Equal(t, "c1", f.ClientMsgID)

	payload, err := PayloadAs[SendPayload](f)
	require.NoError(t, err)
	assert.Equal(t, "hi", payload.Text)

	_, err = ParseFrameJSON([]byte(`{"ts":1}`))
	assert.Error(t, err)

	_, err = ParseFrameJSON([]byte(`not json`))
	assert.Error(t, err)
}

func TestConnManagerIndexes(t *testing.T) {
	m := NewConnManager(0, 0)
	a := NewClient("conn-a", nil, 4)
	b := NewClient("conn-b", nil, 4)
	m.Add(a)
	m.Add(b)
	m.Bind(a, "alice")
	m.Bind(b, "alice")
	m.Subscribe(a, "k1", "k2")
	m.Subscribe(b, "k1")

	assert.Len(t, m.ConnsOnKey("k1", ""), 2)
	assert.Len(t, m.ConnsOnKey("k1", "conn-a"), 1)
	assert.Len(t, m.ConnsOfUser("alice"), 2)
	assert.ElementsMatch(t, []string{"k1", "k2"}, m.KeysOf("conn-a"))

	m.Remove("conn-a")
	assert.Len(t, m.ConnsOnKey("k1", ""), 1)
	assert.Empty(t, m.ConnsOnKey("k2", ""))
	assert.True(t, m.UserStillOnKey("alice", "k1"))
	assert.False(t, m.UserStillOnKey("alice", "k2"))

	m.Remove("conn-b")
	assert.Empty(t, m.ConnsOfUser("alice"))
	assert.Zero(t, m.Count())
}
