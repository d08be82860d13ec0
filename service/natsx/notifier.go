package natsx

import (
	"context"

	"github.com/nats-io/nats.go"
)

const userHeader = "X-User-Id"

// Notifier hands offline deliveries to the push notification tier. The
// hub's contract ends at the publish; batching and the rolling window are
// the subscriber's policy.
type Notifier struct {
	nc      *nats.Conn
	subject string
}

func NewNotifier(nc *nats.Conn, subject string) *Notifier {
	return &Notifier{nc: nc, subject: subject}
}

func (n *Notifier) Notify(_ context.Context, userID string, payload []byte) error {
	msg := nats.NewMsg(n.subject)
	msg.Header.Set(userHeader, userID)
	msg.Data = payload
	return n.nc.PublishMsg(msg)
}
