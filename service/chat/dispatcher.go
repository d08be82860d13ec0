package chat

import (
	"PRelay/logger"
	"PRelay/tools/errs"
)

// Dispatcher routes inbound frames to registered handlers by type.
type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: map[string]Handler{}}
}

func (d *Dispatcher) Register(hs ...Handler) {
	for _, h := range hs {
		d.handlers[h.Op()] = h
	}
}

// RegisterDefaultHandlers wires the full hub surface.
func RegisterDefaultHandlers(s *Server) {
	s.Register(
		ConnectHandler{},
		HeartbeatHandler{},
		SendHandler{},
		EditHandler{},
		MarkReadHandler{},
		MarkAllReadHandler{},
		UnreadCountsHandler{},
		TypingHandler{},
		StopTypingHandler{},
		StatusHandler{},
	)
}

func (d *Dispatcher) Dispatch(ctx *Context, f *Frame, c *Client) error {
	h, ok := d.handlers[f.Type]
	if !ok {
		logger.Warnf("[chat] unknown frame type=%s conn=%s", f.Type, c.ConnID)
		return errs.ErrUnknownFrameType
	}
	if f.Type != OpConnect && !c.Authorized {
		return errs.ErrUnauthorized
	}
	return h.Handle(ctx, f, c)
}
