package chat

import (
	"context"

	"PRelay/global"
)

// Typing indicators are ephemeral: always delivered immediately to live
// subscribers, never admitted, queued, persisted or counted.

type TypingHandler struct{}

func (TypingHandler) Op() string { return OpTyping }

func (TypingHandler) Handle(ctx *Context, f *Frame, c *Client) error {
	return broadcastTyping(ctx, f, c, EvUserTyping)
}

type StopTypingHandler struct{}

func (StopTypingHandler) Op() string { return OpStopTyping }

func (StopTypingHandler) Handle(ctx *Context, f *Frame, c *Client) error {
	return broadcastTyping(ctx, f, c, EvUserStoppedTyping)
}

func broadcastTyping(ctx *Context, f *Frame, c *Client, event string) error {
	payload, err := PayloadAs[TypingPayload](f)
	if err != nil {
		return err
	}
	key := global.RoutingKeyFor(payload.ChatType, payload.TargetID)
	if payload.ChatType == global.ChatTypePrivate {
		key = global.PrivateKey(c.UserID, payload.PeerID)
	}
	ev := BuildEvent(event, "", map[string]any{
		"user_id":   c.UserID,
		"chat_type": payload.ChatType,
		"target_id": payload.TargetID,
	})
	ctx.S.Bridge().Deliver(context.Background(), key, ev, DeliverOptions{
		ExcludeConnID: c.ConnID,
		SenderID:      c.UserID,
		ChatType:      payload.ChatType,
		TargetID:      payload.TargetID,
	})
	return nil
}
