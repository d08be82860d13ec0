package kafka

import (
	"context"

	"PRelay/logger"
	"PRelay/tools/safe"

	"github.com/Shopify/sarama"
)

// MessageHandler consumes one raw relay record.
type MessageHandler func(ctx context.Context, raw []byte) error

type groupHandler struct {
	handle     MessageHandler
	skipOrigin string
}

// originMatches reports whether a record carries the given origin header.
func originMatches(headers []*sarama.RecordHeader, origin string) bool {
	if origin == "" {
		return false
	}
	for _, h := range headers {
		if h != nil && string(h.Key) == originHeader && string(h.Value) == origin {
			return true
		}
	}
	return false
}

func (groupHandler) Setup(sarama.ConsumerGroupSession) error {
	logger.Info("[kafka] consumer group setup")
	return nil
}

func (groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	logger.Info("[kafka] consumer group cleanup")
	return nil
}

func (h groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		// drop our own mirrored records before decoding them
		if originMatches(msg.Headers, h.skipOrigin) {
			session.MarkMessage(msg, "")
			continue
		}
		if err := h.handle(session.Context(), msg.Value); err != nil {
			logger.Errorf("[kafka] handler failed topic=%s offset=%d: %v", msg.Topic, msg.Offset, err)
		}
		// relay events are fire-and-forget, failed ones are not replayed
		session.MarkMessage(msg, "")
	}
	return nil
}

// StartConsumerGroup pumps the bridge topic into the handler until ctx is
// cancelled. Records whose origin header equals skipOrigin are our own
// echoes and are acknowledged without decoding. Rebalances restart
// Consume; that loop is expected.
func StartConsumerGroup(ctx context.Context, conf Config, topic, skipOrigin string, handle MessageHandler) (sarama.ConsumerGroup, error) {
	conf.norm()
	group, err := sarama.NewConsumerGroup(conf.Brokers, conf.GroupID, buildBaseConfig(conf))
	if err != nil {
		return nil, err
	}

	safe.Go(func() {
		for err := range group.Errors() {
			logger.Errorf("[kafka] consumer group error: %v", err)
		}
	})
	safe.Go(func() {
		handler := groupHandler{handle: handle, skipOrigin: skipOrigin}
		for {
			if ctx.Err() != nil {
				return
			}
			if err := group.Consume(ctx, []string{topic}, handler); err != nil {
				logger.Errorf("[kafka] consume error: %v", err)
			}
		}
	})
	return group, nil
}
