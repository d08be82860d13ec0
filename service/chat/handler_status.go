package chat

import (
	"context"

	"PRelay/global"
)

// StatusHandler reports the roster of a chat with each member's live
// presence state.
type StatusHandler struct{}

func (StatusHandler) Op() string { return OpGetUsersWithStatus }

func (StatusHandler) Handle(ctx *Context, f *Frame, c *Client) error {
	payload, err := PayloadAs[StatusPayload](f)
	if err != nil {
		return err
	}
	bg := context.Background()

	members, err := ctx.S.Members().Members(bg, payload.ChatType, payload.TargetID)
	if err != nil {
		return err
	}
	online, err := ctx.S.Directory().ListOnline(bg, global.RoutingKeyFor(payload.ChatType, payload.TargetID))
	if err != nil {
		online = map[string]struct{}{}
	}

	users := make([]map[string]any, 0, len(members))
	for _, m := range members {
		status := "offline"
		if _, ok := online[m]; ok {
			status = "online"
		}
		users = append(users, map[string]any{"user_id": m, "status": status})
	}
	ctx.S.SendEvent(c, EvUsersWithStatus, f.ClientMsgID, map[string]any{
		"chat_type": payload.ChatType,
		"target_id": payload.TargetID,
		"users":     users,
	})
	return nil
}
