package natsx

import (
	"time"

	"PRelay/logger"

	"github.com/nats-io/nats.go"
)

// Connect opens a core NATS connection with sane reconnect behavior.
func Connect(url, name string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warnf("[natsx] disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("[natsx] reconnected to %s", nc.ConnectedUrl())
		}),
	)
}
