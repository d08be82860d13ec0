package chat

import (
	"context"
	"net/http"

	"PRelay/logger"
	"PRelay/tools/ids"
	"PRelay/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// origin policy is enforced upstream at the edge proxy
	CheckOrigin: func(*http.Request) bool { return true },
}

// RegisterWS mounts the websocket endpoint on the gin engine.
func RegisterWS(r *gin.Engine, s *Server) {
	r.GET("/ws", func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warnf("[chat] upgrade failed: %v", err)
			return
		}
		client := NewClient(ids.GenerateString(), ws, s.Conf().Chat.SendQueueSize)
		s.Conns().Add(client)
		safe.Go(client.WritePump)
		safe.Go(func() { readLoop(s, client) })
	})
}

func readLoop(s *Server, c *Client) {
	defer s.Disconnect(context.Background(), c)
	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			logger.Debug("[chat] read loop ended conn=" + c.ConnID + ": " + err.Error())
			return
		}
		f, perr := ParseFrameJSON(raw)
		if perr != nil {
			logger.Warnf("[chat] bad frame conn=%s: %v", c.ConnID, perr)
			continue
		}
		f.ConnID = c.ConnID
		s.HandleFrame(f, c)
	}
}
