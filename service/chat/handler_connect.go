package chat

import (
	"context"

	"PRelay/logger"
	"PRelay/tools/security"
)

// ConnectHandler authenticates the connection from the bearer token and
// joins the user to all their routing keys.
type ConnectHandler struct{}

func (ConnectHandler) Op() string { return OpConnect }

func (ConnectHandler) Handle(ctx *Context, f *Frame, c *Client) error {
	payload, err := PayloadAs[ConnectPayload](f)
	if err != nil {
		return err
	}
	claims, err := security.Verify(ctx.S.JWTOptions(), payload.Token)
	if err != nil {
		logger.Warnf("[chat] connect rejected conn=%s: %v", c.ConnID, err)
		return err
	}

	ctx.S.Conns().Bind(c, claims.UserID)
	ctx.S.JoinUser(context.Background(), c)

	ctx.S.SendEvent(c, EvConnectAck, f.ClientMsgID, map[string]any{
		"conn_id": c.ConnID,
		"user_id": claims.UserID,
	})
	logger.Infof("[chat] connected conn=%s user=%s", c.ConnID, claims.UserID)
	return nil
}

// HeartbeatHandler renews presence TTLs for the connection.
type HeartbeatHandler struct{}

func (HeartbeatHandler) Op() string { return OpHeartbeat }

func (HeartbeatHandler) Handle(ctx *Context, f *Frame, c *Client) error {
	ctx.S.Heartbeat(context.Background(), c)
	return nil
}
