package chat

import (
	"context"

	"PRelay/tools/errs"
)

// SendHandler runs one outgoing message through admission and delivery.
type SendHandler struct{}

func (SendHandler) Op() string { return OpSendMessage }

func (SendHandler) Handle(ctx *Context, f *Frame, c *Client) error {
	payload, err := PayloadAs[SendPayload](f)
	if err != nil {
		return err
	}
	if payload.ChatType == "" || (payload.TargetID == "" && payload.PeerID == "") {
		return errs.ErrMalformedTarget
	}
	return ctx.S.AdmitAndSend(context.Background(), c, f, payload)
}

// EditHandler applies an in-window edit and reports refusals.
type EditHandler struct{}

func (EditHandler) Op() string { return OpEditMessage }

func (EditHandler) Handle(ctx *Context, f *Frame, c *Client) error {
	payload, err := PayloadAs[EditPayload](f)
	if err != nil {
		return err
	}

	res := ctx.S.Pipeline().Edit(context.Background(), c.UserID, c.ConnID, payload)
	if !res.Applied {
		data := map[string]any{
			"message_id":        payload.MessageID,
			"error":             res.Reason.Error(),
			"allowed_window_ms": res.AllowedWindow.Milliseconds(),
		}
		if ce, ok := res.Reason.(errs.CodeError); ok {
			data["code"] = ce.Code
			data["error"] = ce.Msg
		}
		ctx.S.SendEvent(c, EvEditMessageSentFailed, f.ClientMsgID, data)
		return nil
	}
	return nil
}
