package chat

import (
	"context"
	"strconv"

	"PRelay/global"
	"PRelay/module/unread"
)

// MarkReadHandler settles one message read: clamp-decrement the counter,
// advance the last-read pointer, register the read receipt and broadcast
// the seen update to the chat.
type MarkReadHandler struct{}

func (MarkReadHandler) Op() string { return OpMarkRead }

func (MarkReadHandler) Handle(ctx *Context, f *Frame, c *Client) error {
	payload, err := PayloadAs[ReadPayload](f)
	if err != nil {
		return err
	}
	bg := context.Background()
	k := unread.Key{UserID: c.UserID, TargetID: payload.TargetID, ChatType: payload.ChatType}

	count, err := ctx.S.Unread().Decrement(bg, k)
	if err != nil {
		return err
	}
	if payload.MessageID > 0 {
		if _, err := ctx.S.Unread().SetLastRead(bg, k, payload.MessageID); err != nil {
			return err
		}
		msgID := strconv.FormatInt(payload.MessageID, 10)
		if err := ctx.S.Unread().MarkSeen(bg, c.UserID, msgID, k); err != nil {
			return err
		}
		seen := ctx.S.Unread().SeenCount(bg, msgID)
		ctx.S.Bridge().Deliver(bg, readKey(c.UserID, payload), BuildEvent(EvMessageSeenUpdate, "", map[string]any{
			"message_id": payload.MessageID,
			"user_id":    c.UserID,
			"seen_count": seen,
		}), DeliverOptions{
			SenderID: c.UserID,
			ChatType: payload.ChatType,
			TargetID: payload.TargetID,
		})
	}

	ctx.S.SendEvent(c, EvMessageMarkedAsRead, f.ClientMsgID, map[string]any{
		"chat_type":  payload.ChatType,
		"target_id":  payload.TargetID,
		"message_id": payload.MessageID,
		"count":      count,
	})
	return nil
}

// MarkAllReadHandler zeroes the counter and, when a latest id is supplied,
// advances the last-read pointer to it.
type MarkAllReadHandler struct{}

func (MarkAllReadHandler) Op() string { return OpMarkAllRead }

func (MarkAllReadHandler) Handle(ctx *Context, f *Frame, c *Client) error {
	payload, err := PayloadAs[ReadPayload](f)
	if err != nil {
		return err
	}
	bg := context.Background()
	k := unread.Key{UserID: c.UserID, TargetID: payload.TargetID, ChatType: payload.ChatType}

	if err := ctx.S.Unread().Reset(bg, k); err != nil {
		return err
	}
	if payload.MessageID > 0 {
		if _, err := ctx.S.Unread().SetLastRead(bg, k, payload.MessageID); err != nil {
			return err
		}
	}
	ctx.S.SendEvent(c, EvAllMarkedAsRead, f.ClientMsgID, map[string]any{
		"chat_type": payload.ChatType,
		"target_id": payload.TargetID,
	})
	return nil
}

// ChatRef addresses one chat in a bulk query.
type ChatRef struct {
	ChatType string `json:"chat_type"`
	TargetID string `json:"target_id"`
	PeerID   string `json:"peer_id,omitempty"`
}

type UnreadQueryPayload struct {
	Chats []ChatRef `json:"chats"`
}

// UnreadCountsHandler answers a bulk counter query, falling back to the
// durable store on cold reads. With no explicit chat list the user's
// cached memberships define the scope.
type UnreadCountsHandler struct{}

func (UnreadCountsHandler) Op() string { return OpRequestUnreadCounts }

func (UnreadCountsHandler) Handle(ctx *Context, f *Frame, c *Client) error {
	bg := context.Background()
	var chats []ChatRef
	if f.Data != nil {
		payload, err := PayloadAs[UnreadQueryPayload](f)
		if err != nil {
			return err
		}
		chats = payload.Chats
	}
	if len(chats) == 0 {
		chats = membershipChats(ctx, bg, c)
	}

	counts := make([]map[string]any, 0, len(chats))
	for _, ref := range chats {
		targetID := ref.TargetID
		if ref.ChatType == global.ChatTypePrivate && targetID == "" {
			targetID = ref.PeerID
		}
		k := unread.Key{UserID: c.UserID, TargetID: targetID, ChatType: ref.ChatType}
		counts = append(counts, map[string]any{
			"chat_type": ref.ChatType,
			"target_id": targetID,
			"count":     ctx.S.Unread().GetCount(bg, k),
			"last_read": ctx.S.Unread().GetLastRead(bg, k),
		})
	}
	ctx.S.SendEvent(c, EvUnreadCounts, f.ClientMsgID, map[string]any{"counts": counts})
	return nil
}

// membershipChats derives the user's chat list from their cached routing
// keys, skipping the per-user system channel.
func membershipChats(ctx *Context, bg context.Context, c *Client) []ChatRef {
	keys, ok, err := ctx.S.Directory().GetMemberships(bg, c.UserID)
	if err != nil || !ok {
		keys, err = ctx.S.Members().RoutingKeys(bg, c.UserID)
		if err != nil {
			return nil
		}
	}
	out := make([]ChatRef, 0, len(keys))
	for _, key := range keys {
		chatType, id, parsed := global.ParseRoutingKey(key, c.UserID)
		if !parsed || chatType == global.ChatTypeSystem {
			continue
		}
		ref := ChatRef{ChatType: chatType, TargetID: id}
		if chatType == global.ChatTypePrivate {
			ref.PeerID = id
		}
		out = append(out, ref)
	}
	return out
}

func readKey(userID string, payload *ReadPayload) string {
	if payload.ChatType == global.ChatTypePrivate {
		return global.PrivateKey(userID, payload.PeerID)
	}
	return global.RoutingKeyFor(payload.ChatType, payload.TargetID)
}
